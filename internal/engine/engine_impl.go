package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskrun/internal/persistence"
	"github.com/petrijr/taskrun/internal/taskqueue"
	"github.com/petrijr/taskrun/pkg/api"
)

// engineImpl owns the task lifecycle: submission, reads, cancellation and
// the status changes workers request.
type engineImpl struct {
	store      persistence.TaskStore
	scheduler  taskqueue.Scheduler
	observer   api.Observer
	authorizer api.Authorizer
	defaults   api.Settings

	now   func() time.Time
	newID func() string
}

// Config describes how to construct an engineImpl.
type Config struct {
	Store     persistence.TaskStore
	Scheduler taskqueue.Scheduler

	// Optional.
	Observer   api.Observer
	Authorizer api.Authorizer

	// Defaults apply to options a submission leaves unset. Nil means
	// api.DefaultSettings().
	Defaults *api.Settings

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewEngine creates a new Engine using the given configuration.
func NewEngine(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	auth := cfg.Authorizer
	if auth == nil {
		auth = api.OwnerAuthorizer
	}
	defaults := api.DefaultSettings()
	if cfg.Defaults != nil {
		defaults = *cfg.Defaults
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &engineImpl{
		store:      cfg.Store,
		scheduler:  cfg.Scheduler,
		observer:   obs,
		authorizer: auth,
		defaults:   defaults,
		now:        func() time.Time { return clock().UTC() },
		newID:      uuid.NewString,
	}
}

func (e *engineImpl) Submit(ctx context.Context, req api.SubmitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := e.now()
	rec := &api.TaskRecord{
		ID:        e.newID(),
		Owner:     req.Owner,
		Name:      req.Name,
		Status:    api.StatusPending,
		CreatedAt: now,
	}
	if err := e.store.CreateTask(ctx, rec); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	item := taskqueue.Item{
		ID:         e.newID(),
		TaskID:     rec.ID,
		Params:     req.Params,
		Settings:   req.Options.Resolve(e.defaults),
		EnqueuedAt: now,
		NotBefore:  now,
	}
	if err := e.scheduler.Enqueue(ctx, item); err != nil {
		// The record stays PENDING and can still be canceled.
		_ = e.AddError(ctx, rec.ID, "enqueue failed: "+err.Error(), "")
		return rec.ID, fmt.Errorf("enqueue task %s: %w", rec.ID, err)
	}
	e.observer.OnTaskSubmitted(ctx, rec)
	return rec.ID, nil
}

func (e *engineImpl) Get(ctx context.Context, id string, req api.Requester) (*api.TaskView, error) {
	rec, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.authorizer.Access(ctx, req, rec) == api.AccessNone {
		// Don't reveal that the task exists.
		return nil, api.ErrTaskNotFound
	}
	return api.NewTaskView(rec), nil
}

func (e *engineImpl) List(ctx context.Context, req api.Requester, opts api.ListOptions) ([]*api.TaskView, error) {
	filter := persistence.TaskFilter{Name: opts.Name, Search: opts.Search}
	if !req.Privileged {
		if req.ID == "" {
			return []*api.TaskView{}, nil
		}
		filter.Owner = req.ID
	}

	recs, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*api.TaskView, 0, len(recs))
	for _, rec := range recs {
		if e.authorizer.Access(ctx, req, rec) == api.AccessNone {
			continue
		}
		views = append(views, api.NewTaskView(rec))
	}
	return views, nil
}

func (e *engineImpl) Cancel(ctx context.Context, id string, req api.Requester) (string, error) {
	rec, err := e.store.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	if e.authorizer.Access(ctx, req, rec) == api.AccessNone {
		return "", api.ErrForbidden
	}

	if err := e.scheduler.Revoke(ctx, id); err != nil {
		return "", fmt.Errorf("revoke task %s: %w", id, err)
	}

	canceled, err := e.Finish(ctx, id, api.StatusCanceled, "")
	if err != nil {
		var ite *api.InvalidTransitionError
		if errors.As(err, &ite) {
			return "", &api.CancellationConflictError{TaskID: id, Status: ite.From}
		}
		return "", err
	}
	e.observer.OnTaskCanceled(ctx, canceled)
	return id, nil
}

func (e *engineImpl) Lookup(ctx context.Context, id string) (*api.TaskRecord, error) {
	return e.store.GetTask(ctx, id)
}

// Start refuses IN_PROGRESS -> IN_PROGRESS so a redelivered attempt can't
// run alongside the one already active.
func (e *engineImpl) Start(ctx context.Context, id string) (*api.TaskRecord, error) {
	return e.store.Transition(ctx, id, persistence.Transition{
		To:   api.StatusInProgress,
		At:   e.now(),
		From: []api.Status{api.StatusPending, api.StatusRetryPending},
	})
}

func (e *engineImpl) Finish(ctx context.Context, id string, to api.Status, result string) (*api.TaskRecord, error) {
	if !to.IsFinished() {
		return nil, fmt.Errorf("%w: %s is not a finishing status", api.ErrInvalidParams, to)
	}
	return e.store.Transition(ctx, id, persistence.Transition{
		To:     to,
		At:     e.now(),
		Result: result,
	})
}

func (e *engineImpl) FinishWithError(ctx context.Context, id string, to api.Status, message, detail string) (*api.TaskRecord, error) {
	if !to.IsFinished() {
		return nil, fmt.Errorf("%w: %s is not a finishing status", api.ErrInvalidParams, to)
	}
	now := e.now()
	return e.store.Transition(ctx, id, persistence.Transition{
		To:    to,
		At:    now,
		Error: &api.TaskError{Message: message, Detail: detail, CreatedAt: now},
	})
}

func (e *engineImpl) AddError(ctx context.Context, id string, message, detail string) error {
	return e.store.AppendError(ctx, id, api.TaskError{
		Message:   message,
		Detail:    detail,
		CreatedAt: e.now(),
	})
}

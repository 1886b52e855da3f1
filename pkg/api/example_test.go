package api_test

import (
	"errors"
	"fmt"

	"github.com/petrijr/taskrun/pkg/api"
)

// ExampleValidateTransition shows how a rejected status change reports the
// statuses involved.
func ExampleValidateTransition() {
	fmt.Println(api.ValidateTransition("t-1", api.StatusPending, api.StatusInProgress))

	err := api.ValidateTransition("t-1", api.StatusCompleted, api.StatusCanceled)
	var ite *api.InvalidTransitionError
	if errors.As(err, &ite) {
		fmt.Println(ite.From, "->", ite.To)
	}
	fmt.Println(errors.Is(err, api.ErrInvalidTransition))

	// Output:
	// <nil>
	// COMPLETED -> CANCELED
	// true
}

// ExampleNewTaskView shows which fields a view exposes per status.
func ExampleNewTaskView() {
	rec := &api.TaskRecord{
		ID:     "t-2",
		Name:   "report",
		Owner:  "alice",
		Status: api.StatusInProgress,
		Result: "stale",
		Errors: []api.TaskError{{Message: "first attempt failed"}},
	}
	v := api.NewTaskView(rec)
	fmt.Println(v.Result == nil, v.FinishedAt == nil, len(v.Errors))

	// Output:
	// true true 0
}

package persistence

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/taskrun/pkg/api"
)

// MongoTaskStore is a TaskStore backed by a MongoDB collection. Each task is
// one document with its error history embedded, so a status change and its
// error entry land in a single atomic update.
type MongoTaskStore struct {
	coll *mongo.Collection
}

// Ensure it implements TaskStore.
var _ TaskStore = (*MongoTaskStore)(nil)

// NewMongoTaskStore creates a Mongo-backed task store.
// dbName defaults to "taskrun" if empty, collName defaults to "tasks".
func NewMongoTaskStore(client *mongo.Client, dbName, collName string) *MongoTaskStore {
	if dbName == "" {
		dbName = "taskrun"
	}
	if collName == "" {
		collName = "tasks"
	}

	return &MongoTaskStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoTaskDoc struct {
	ID         string          `bson:"_id"`
	Owner      string          `bson:"owner"`
	Name       string          `bson:"name"`
	Status     string          `bson:"status"`
	Result     string          `bson:"result"`
	CreatedAt  time.Time       `bson:"created_at"`
	FinishedAt *time.Time      `bson:"finished_at"`
	Errors     []mongoErrorDoc `bson:"errors"`
}

type mongoErrorDoc struct {
	Message   string    `bson:"message"`
	Detail    string    `bson:"detail"`
	CreatedAt time.Time `bson:"created_at"`
}

func toMongoDoc(rec *api.TaskRecord) mongoTaskDoc {
	doc := mongoTaskDoc{
		ID:         rec.ID,
		Owner:      rec.Owner,
		Name:       rec.Name,
		Status:     string(rec.Status),
		Result:     rec.Result,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
		Errors:     make([]mongoErrorDoc, 0, len(rec.Errors)),
	}
	for _, e := range rec.Errors {
		doc.Errors = append(doc.Errors, toMongoError(e))
	}
	return doc
}

func toMongoError(e api.TaskError) mongoErrorDoc {
	return mongoErrorDoc{Message: e.Message, Detail: e.Detail, CreatedAt: e.CreatedAt}
}

func (d mongoTaskDoc) record() *api.TaskRecord {
	rec := &api.TaskRecord{
		ID:        d.ID,
		Owner:     d.Owner,
		Name:      d.Name,
		Status:    api.Status(d.Status),
		Result:    d.Result,
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.FinishedAt != nil {
		t := d.FinishedAt.UTC()
		rec.FinishedAt = &t
	}
	for _, e := range d.Errors {
		rec.Errors = append(rec.Errors, api.TaskError{
			Message:   e.Message,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return rec
}

func (s *MongoTaskStore) CreateTask(ctx context.Context, rec *api.TaskRecord) error {
	_, err := s.coll.InsertOne(ctx, toMongoDoc(rec))
	if mongo.IsDuplicateKeyError(err) {
		return ErrTaskExists
	}
	return err
}

func (s *MongoTaskStore) GetTask(ctx context.Context, id string) (*api.TaskRecord, error) {
	var doc mongoTaskDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrTaskNotFound
		}
		return nil, err
	}
	return doc.record(), nil
}

func (s *MongoTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*api.TaskRecord, error) {
	query := bson.M{}
	if filter.Owner != "" {
		query["owner"] = filter.Owner
	}
	if filter.Name != "" {
		query["name"] = filter.Name
	}
	if filter.Search != "" {
		query["name"] = bson.M{"$regex": primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}}
		if filter.Name != "" {
			query["$and"] = bson.A{
				bson.M{"name": filter.Name},
				bson.M{"name": query["name"]},
			}
			delete(query, "name")
		}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "name", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	recs := []*api.TaskRecord{}
	for cur.Next(ctx) {
		var doc mongoTaskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		recs = append(recs, doc.record())
	}
	return recs, cur.Err()
}

func (s *MongoTaskStore) Transition(ctx context.Context, id string, tr Transition) (*api.TaskRecord, error) {
	for i := 0; i < maxCASRetries; i++ {
		rec, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		from := rec.Status
		if err := applyTransition(rec, tr); err != nil {
			return nil, err
		}

		update := bson.M{
			"$set": bson.M{
				"status":      string(rec.Status),
				"result":      rec.Result,
				"finished_at": rec.FinishedAt,
			},
		}
		if tr.Error != nil {
			update["$push"] = bson.M{"errors": toMongoError(*tr.Error)}
		}

		res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "status": string(from)}, update)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return rec, nil
		}
	}
	return nil, ErrContention
}

func (s *MongoTaskStore) AppendError(ctx context.Context, id string, e api.TaskError) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{"errors": toMongoError(e)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrTaskNotFound
	}
	return nil
}

package taskqueue

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of MongoDB.
//
// Collection schema:
//
//	{
//	  _id:         string,    // item ID
//	  task_id:     string,
//	  payload:     []byte,    // gob-encoded Item
//	  enqueued_at: time.Time,
//	  not_before:  time.Time,
//	}
type MongoQueue struct {
	coll *mongo.Collection
	opts queueOptions
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "taskrun", collName to "queue_items".
func NewMongoQueue(client *mongo.Client, dbName, collName string, opts ...Option) *MongoQueue {
	if dbName == "" {
		dbName = "taskrun"
	}
	if collName == "" {
		collName = "queue_items"
	}
	return &MongoQueue{
		coll: client.Database(dbName).Collection(collName),
		opts: buildOptions(opts),
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoQueueDoc struct {
	ID         string    `bson:"_id"`
	TaskID     string    `bson:"task_id"`
	Payload    []byte    `bson:"payload"`
	EnqueuedAt time.Time `bson:"enqueued_at"`
	NotBefore  time.Time `bson:"not_before"`
}

// Enqueue inserts a document for the given Item.
func (q *MongoQueue) Enqueue(ctx context.Context, it Item) error {
	now := time.Now().UTC()
	it = prepare(it, now)
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}

	doc := mongoQueueDoc{
		ID:         it.ID,
		TaskID:     it.TaskID,
		Payload:    data,
		EnqueuedAt: it.EnqueuedAt.UTC(),
		NotBefore:  dueAt(it, now).UTC(),
	}

	_, err = q.coll.InsertOne(ctx, doc)
	return err
}

func (q *MongoQueue) Revoke(ctx context.Context, taskID string) error {
	_, err := q.coll.DeleteMany(ctx, bson.M{"task_id": taskID})
	return err
}

// Dequeue blocks (via polling) until a due item is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Item, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	tmr := newIdleTimer()
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UTC()}},
			options.FindOneAndDelete().SetSort(bson.D{
				{Key: "not_before", Value: 1},
				{Key: "enqueued_at", Value: 1},
				{Key: "_id", Value: 1},
			}),
		).Decode(&doc)

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				if err := sleep(ctx, tmr, q.opts.pollInterval); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		return DecodeItem(doc.Payload)
	}
}

// Len returns an approximate number of queued items.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		log.Printf("MongoQueue: Len failed: %v", err)
		return 0
	}
	return int(n)
}

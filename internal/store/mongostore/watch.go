package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/subscription"
)

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
}

// watch opens a change stream and feeds decoded documents to fn until the
// returned guard is unsubscribed. Malformed documents are logged and skipped.
func watch[T any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, decode func(bson.Raw) (T, error), fn func(T), log *zap.SugaredLogger) (*subscription.Guard, error) {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs, err := coll.Watch(wctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, err
	}
	guard := subscription.NewGuard(cancel)

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(wctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				log.Warnw("undecodable change event", "collection", coll.Name(), "error", err)
				continue
			}
			if ev.FullDocument == nil {
				continue
			}
			v, err := decode(ev.FullDocument)
			if err != nil {
				log.Warnw("dropping malformed record", "collection", coll.Name(), "op", ev.OperationType, "error", err)
				continue
			}
			guard.Deliver(func() { fn(v) })
		}
		if err := cs.Err(); err != nil && wctx.Err() == nil {
			log.Errorw("change stream stopped", "collection", coll.Name(), "error", err)
		}
	}()
	return guard, nil
}

func matchStage(ops []string, filter bson.D) mongo.Pipeline {
	match := bson.D{{Key: "operationType", Value: bson.D{{Key: "$in", Value: ops}}}}
	match = append(match, filter...)
	return mongo.Pipeline{{{Key: "$match", Value: match}}}
}

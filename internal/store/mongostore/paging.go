package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chatsync/internal/store"
)

// cursorFilter selects documents strictly older than the cursor in
// (field desc, _id desc) order.
func cursorFilter(field, cursor string) (bson.D, error) {
	at, id, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: at}}}},
		bson.D{{Key: field, Value: at}, {Key: "_id", Value: bson.D{{Key: "$lt", Value: id}}}},
	}}}, nil
}

// findRaw fetches limit+1 documents so the caller can tell whether an older page exists.
func findRaw(ctx context.Context, coll *mongo.Collection, filter bson.D, sortField string, limit int) ([]bson.Raw, error) {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit + 1))
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []bson.Raw
	for cur.Next(ctx) {
		out = append(out, append(bson.Raw(nil), cur.Current...))
	}
	return out, cur.Err()
}

func buildPage[T any](docs []bson.Raw, limit int, decode func(bson.Raw) (T, error), key func(T) string, s *Store) (store.Page[T], error) {
	var page store.Page[T]
	more := limit > 0 && len(docs) > limit
	if more {
		docs = docs[:limit]
	}
	for _, raw := range docs {
		v, err := decode(raw)
		if err != nil {
			s.log.Warnw("skipping malformed record", "error", err)
			continue
		}
		page.Items = append(page.Items, v)
	}
	if more && len(page.Items) > 0 {
		page.NextCursor = key(page.Items[len(page.Items)-1])
	}
	return page, nil
}

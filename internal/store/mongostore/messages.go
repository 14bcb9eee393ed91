package mongostore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

type messageRepo struct {
	s         *Store
	coll      *mongo.Collection
	principal string
	subs      *subscription.Set
}

func (r *messageRepo) visibility() bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "sender_id", Value: r.principal}},
		bson.D{{Key: "receiver_id", Value: r.principal}},
	}}}
}

func (r *messageRepo) Create(ctx context.Context, m domain.Message) (domain.Message, error) {
	if m.SenderID != r.principal {
		return domain.Message{}, apperr.ErrUnauthorized
	}
	if m.ID == "" || m.IsLocal() {
		m.ID = uuid.NewString()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if err := m.Validate(); err != nil {
		return domain.Message{}, apperr.Validation("mongostore.messages.Create", err.Error())
	}
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return domain.Message{}, mapErr(err)
	}
	return m, nil
}

func (r *messageRepo) Get(ctx context.Context, id string) (domain.Message, error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	var raw bson.Raw
	err := withRetry(ctx, func() error {
		var err error
		raw, err = r.coll.FindOne(ctx, bson.M{"_id": id}).Raw()
		return err
	})
	if err != nil {
		return domain.Message{}, mapErr(err)
	}
	m, err := decodeMessage(raw)
	if err != nil {
		return domain.Message{}, err
	}
	if m.SenderID != r.principal && m.ReceiverID != r.principal {
		return domain.Message{}, apperr.ErrUnauthorized
	}
	return m, nil
}

func (r *messageRepo) Update(ctx context.Context, id string, patch store.MessagePatch) (domain.Message, error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()

	set := bson.D{{Key: "updated_at", Value: patch.UpdatedAt}}
	if patch.IsRead != nil {
		set = append(set, bson.E{Key: "is_read", Value: *patch.IsRead})
	}
	if patch.Status != nil {
		set = append(set, bson.E{Key: "status", Value: *patch.Status})
	}
	filter := append(bson.D{{Key: "_id", Value: id}}, r.visibility()...)
	res := r.coll.FindOneAndUpdate(ctx, filter, bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	raw, err := res.Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Message{}, r.missingOrForbidden(ctx, id)
		}
		return domain.Message{}, mapErr(err)
	}
	return decodeMessage(raw)
}

func (r *messageRepo) missingOrForbidden(ctx context.Context, id string) error {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrUnauthorized
	}
	return apperr.ErrNotFound
}

func (r *messageRepo) List(ctx context.Context, f store.MessageFilter, limit int, cursor string) (store.Page[domain.Message], error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()

	and := bson.A{r.visibility()}
	if f.ConversationID != "" {
		and = append(and, bson.D{{Key: "conversation_id", Value: f.ConversationID}})
	}
	if f.ReceiverID != "" {
		and = append(and, bson.D{{Key: "receiver_id", Value: f.ReceiverID}})
	}
	if f.UnreadOnly {
		and = append(and, bson.D{{Key: "is_read", Value: false}})
	}
	if cursor != "" {
		c, err := cursorFilter("created_at", cursor)
		if err != nil {
			return store.Page[domain.Message]{}, err
		}
		and = append(and, c)
	}

	var docs []bson.Raw
	err := withRetry(ctx, func() error {
		var err error
		docs, err = findRaw(ctx, r.coll, bson.D{{Key: "$and", Value: and}}, "created_at", limit)
		return err
	})
	if err != nil {
		return store.Page[domain.Message]{}, mapErr(err)
	}
	return buildPage(docs, limit, decodeMessage, func(m domain.Message) string {
		return store.EncodeCursor(m.CreatedAt, m.ID)
	}, r.s)
}

func (r *messageRepo) SubscribeCreated(ctx context.Context, fn func(domain.Message)) (subscription.Unsubscriber, error) {
	pipeline := matchStage([]string{"insert"}, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "fullDocument.sender_id", Value: r.principal}},
		bson.D{{Key: "fullDocument.receiver_id", Value: r.principal}},
	}}})
	g, err := watch(ctx, r.coll, pipeline, decodeMessage, fn, r.s.log)
	if err != nil {
		return nil, err
	}
	r.subs.Add(g)
	return g, nil
}

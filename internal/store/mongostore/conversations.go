package mongostore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

type conversationRepo struct {
	s         *Store
	coll      *mongo.Collection
	principal string
	subs      *subscription.Set
}

func (r *conversationRepo) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	if c.UserID != r.principal {
		return domain.Conversation{}, apperr.ErrUnauthorized
	}
	if err := c.Validate(); err != nil {
		return domain.Conversation{}, apperr.Validation("mongostore.conversations.Create", err.Error())
	}
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return domain.Conversation{}, mapErr(err)
	}
	return c, nil
}

func (r *conversationRepo) Get(ctx context.Context, id string) (domain.Conversation, error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	var raw bson.Raw
	err := withRetry(ctx, func() error {
		var err error
		raw, err = r.coll.FindOne(ctx, bson.M{"_id": id}).Raw()
		return err
	})
	if err != nil {
		return domain.Conversation{}, mapErr(err)
	}
	c, err := decodeConversation(raw)
	if err != nil {
		return domain.Conversation{}, err
	}
	if c.UserID != r.principal {
		return domain.Conversation{}, apperr.ErrUnauthorized
	}
	return c, nil
}

func (r *conversationRepo) Update(ctx context.Context, id string, p store.ConversationPatch) (domain.Conversation, error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()

	set := bson.D{{Key: "updated_at", Value: p.UpdatedAt}}
	if p.OtherUserName != nil {
		set = append(set, bson.E{Key: "other_user_name", Value: *p.OtherUserName})
	}
	if p.OtherUserAvatar != nil {
		set = append(set, bson.E{Key: "other_user_avatar", Value: *p.OtherUserAvatar})
	}
	if p.LastMessageContent != nil {
		set = append(set, bson.E{Key: "last_message_content", Value: *p.LastMessageContent})
	}
	if p.LastMessageAt != nil {
		set = append(set, bson.E{Key: "last_message_at", Value: *p.LastMessageAt})
	}
	if p.UnreadCount != nil {
		set = append(set, bson.E{Key: "unread_count", Value: *p.UnreadCount})
	}

	res := r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "user_id", Value: r.principal}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	raw, err := res.Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			n, cerr := r.coll.CountDocuments(ctx, bson.M{"_id": id})
			if cerr != nil {
				return domain.Conversation{}, cerr
			}
			if n > 0 {
				return domain.Conversation{}, apperr.ErrUnauthorized
			}
			return domain.Conversation{}, apperr.ErrNotFound
		}
		return domain.Conversation{}, mapErr(err)
	}
	return decodeConversation(raw)
}

func (r *conversationRepo) List(ctx context.Context, f store.ConversationFilter, limit int, cursor string) (store.Page[domain.Conversation], error) {
	if f.UserID != "" && f.UserID != r.principal {
		return store.Page[domain.Conversation]{}, apperr.ErrUnauthorized
	}
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "user_id", Value: r.principal}}
	if cursor != "" {
		c, err := cursorFilter("last_message_at", cursor)
		if err != nil {
			return store.Page[domain.Conversation]{}, err
		}
		filter = append(filter, c...)
	}
	var docs []bson.Raw
	err := withRetry(ctx, func() error {
		var err error
		docs, err = findRaw(ctx, r.coll, filter, "last_message_at", limit)
		return err
	})
	if err != nil {
		return store.Page[domain.Conversation]{}, mapErr(err)
	}
	return buildPage(docs, limit, decodeConversation, func(c domain.Conversation) string {
		return store.EncodeCursor(c.LastMessageAt, c.ID)
	}, r.s)
}

func (r *conversationRepo) SubscribeCreated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error) {
	return r.subscribe(ctx, []string{"insert"}, fn)
}

func (r *conversationRepo) SubscribeUpdated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error) {
	return r.subscribe(ctx, []string{"update", "replace"}, fn)
}

func (r *conversationRepo) subscribe(ctx context.Context, ops []string, fn func(domain.Conversation)) (subscription.Unsubscriber, error) {
	pipeline := matchStage(ops, bson.D{{Key: "fullDocument.user_id", Value: r.principal}})
	g, err := watch(ctx, r.coll, pipeline, decodeConversation, fn, r.s.log)
	if err != nil {
		return nil, err
	}
	r.subs.Add(g)
	return g, nil
}

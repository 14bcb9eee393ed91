package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Collections struct {
	Messages      string
	Conversations string
	Profiles      string
	Contacts      string
}

// Store holds the shared client. Per-principal views come from Session.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	cols    Collections
	timeout time.Duration
	log     *zap.SugaredLogger
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func New(client *mongo.Client, database string, cols Collections, timeout time.Duration, log *zap.SugaredLogger) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		client:  client,
		db:      client.Database(database),
		cols:    cols,
		timeout: timeout,
		log:     utils.OrNop(log),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msgs := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("by_conversation"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}},
			Options: options.Index().SetName("by_receiver_unread"),
		},
	}
	if _, err := s.db.Collection(s.cols.Messages).Indexes().CreateMany(ctx, msgs); err != nil {
		return err
	}
	convs := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "last_message_at", Value: -1}},
		Options: options.Index().SetName("by_user"),
	}
	if _, err := s.db.Collection(s.cols.Conversations).Indexes().CreateOne(ctx, convs); err != nil {
		return err
	}
	contacts := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "contact_user_id", Value: 1}},
		Options: options.Index().SetName("by_pair").SetUnique(true),
	}
	_, err := s.db.Collection(s.cols.Contacts).Indexes().CreateOne(ctx, contacts)
	return err
}

// Session scopes the store to principal. Closing it stops the session's
// change streams; the client stays connected.
func (s *Store) Session(principal string) *store.Session {
	subs := &subscription.Set{}
	return store.NewSession(principal,
		&messageRepo{s: s, coll: s.db.Collection(s.cols.Messages), principal: principal, subs: subs},
		&conversationRepo{s: s, coll: s.db.Collection(s.cols.Conversations), principal: principal, subs: subs},
		&profileRepo{s: s, coll: s.db.Collection(s.cols.Profiles)},
		&contactRepo{s: s, coll: s.db.Collection(s.cols.Contacts), principal: principal},
		func(context.Context) error {
			subs.DisposeAll()
			return nil
		},
	)
}

func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureTimeout bounds ctx by the store timeout unless it already has a deadline.
func (s *Store) ensureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

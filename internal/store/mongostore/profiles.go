package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
)

type profileRepo struct {
	s    *Store
	coll *mongo.Collection
}

func (r *profileRepo) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	var p domain.UserProfile
	err := withRetry(ctx, func() error {
		return r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	})
	if err != nil {
		return domain.UserProfile{}, mapErr(err)
	}
	return p, nil
}

type contactRepo struct {
	s         *Store
	coll      *mongo.Collection
	principal string
}

func (r *contactRepo) Get(ctx context.Context, userID, contactUserID string) (domain.Contact, error) {
	if userID != r.principal {
		return domain.Contact{}, apperr.ErrUnauthorized
	}
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	var c domain.Contact
	err := withRetry(ctx, func() error {
		return r.coll.FindOne(ctx, bson.M{"user_id": userID, "contact_user_id": contactUserID}).Decode(&c)
	})
	if err != nil {
		return domain.Contact{}, mapErr(err)
	}
	return c, nil
}

func (r *contactRepo) Create(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	if c.UserID != r.principal {
		return domain.Contact{}, apperr.ErrUnauthorized
	}
	ctx, cancel := r.s.ensureTimeout(ctx)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return domain.Contact{}, mapErr(err)
	}
	return c, nil
}

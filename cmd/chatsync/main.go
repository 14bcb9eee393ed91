package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/api"
	"github.com/fathima-sithara/chatsync/internal/auth"
	"github.com/fathima-sithara/chatsync/internal/blob"
	"github.com/fathima-sithara/chatsync/internal/config"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/session"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/store/memory"
	"github.com/fathima-sithara/chatsync/internal/store/mongostore"
	"github.com/fathima-sithara/chatsync/internal/subscription"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

func main() {
	// load config
	path := "config/config.yaml"
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	// logger
	logger, err := utils.NewLogger(cfg.Development())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// signed-in user
	var verifier *auth.Verifier
	if cfg.Auth.Alg != "NONE" {
		verifier, err = auth.NewVerifier(cfg.Auth.Alg, cfg.Auth.HSSecret, cfg.Auth.PublicKeyPath)
		if err != nil {
			logger.Fatalf("jwt init: %v", err)
		}
	}
	principal, err := resolvePrincipal(cfg, verifier)
	if err != nil {
		logger.Fatalf("sign in: %v", err)
	}
	identity := auth.NewSession(principal)
	logger.Infow("signed in", "user", principal.ID)

	// store
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var (
		st    *store.Session
		mongo *mongostore.Store
	)
	switch cfg.Store.Driver {
	case "mongo":
		mc, err := mongostore.Connect(ctx, cfg.Store.URI)
		if err != nil {
			logger.Fatalf("mongo connect: %v", err)
		}
		mongo = mongostore.New(mc, cfg.Store.Database, mongostore.Collections{
			Messages:      cfg.Store.MessagesCollection,
			Conversations: cfg.Store.ConversationsCollection,
			Profiles:      cfg.Store.ProfilesCollection,
			Contacts:      cfg.Store.ContactsCollection,
		}, cfg.StoreOpTimeout, logger)
		if err := mongo.EnsureIndexes(ctx); err != nil {
			logger.Fatalf("mongo indexes: %v", err)
		}
		st = mongo.Session(principal.ID)
	default:
		logger.Warn("using in-memory store, nothing survives a restart")
		st = memory.NewBackend().Session(principal.ID)
	}

	// events
	pub, err := newPublisher(cfg)
	if err != nil {
		logger.Fatalf("events init: %v", err)
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// avatars
	var (
		avatars *blob.Service
		rdb     *redis.Client
	)
	if cfg.Blob.Enabled {
		s3, err := blob.NewS3Store(ctx, cfg.Blob.Region, cfg.Blob.Bucket, cfg.Blob.Endpoint)
		if err != nil {
			logger.Fatalf("s3 init: %v", err)
		}
		var cache blob.URLCache
		if cfg.Redis.Addr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warnw("redis unavailable, caching urls in memory", "error", err)
				_ = rdb.Close()
				rdb = nil
			} else {
				cache = blob.NewRedisURLCache(rdb, cfg.Redis.Prefix)
			}
		}
		avatars = blob.NewService(s3, cache, identity, blob.Config{
			Prefix:     cfg.Blob.Prefix,
			PresignTTL: cfg.PresignTTL,
		}, m, logger)
	}

	// session
	sess := session.New(session.Config{
		PageSize:         cfg.Sync.PageSize,
		ReadBatchTimeout: cfg.ReadBatchTimeout,
		AuthFailureDelay: cfg.AuthFailureDelay,
		Retry: subscription.RetryConfig{
			MaxRetries:      cfg.Sync.SubscribeMaxRetries,
			InitialInterval: cfg.SubscribeInitial,
			MaxInterval:     cfg.SubscribeMaxDelay,
		},
	}, session.Deps{Store: st, Publisher: pub, Metrics: m, Log: logger})
	if err := sess.Start(context.Background()); err != nil {
		logger.Fatalf("session start: %v", err)
	}
	go logNotices(sess, logger)

	// fiber app & routes
	app, srv := api.NewServer(api.Options{
		RateLimitPerMin: cfg.App.RateLimitPerMin,
		Verifier:        verifier,
		Gatherer:        reg,
		Avatars:         avatars,
	}, sess, logger)

	sweepDone := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-t.C:
				if n := srv.SweepVisitors(10 * time.Minute); n > 0 {
					logger.Debugw("rate limiter sweep", "removed", n)
				}
			}
		}
	}()

	// start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Infof("starting chatsync on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatalf("listen failed: %v", err)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown requested")
	timeoutCtx, cancel2 := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel2()

	close(sweepDone)
	_ = app.ShutdownWithContext(timeoutCtx)
	if err := sess.Close(timeoutCtx); err != nil {
		logger.Warnw("session close", "error", err)
	}
	if err := pub.Close(); err != nil {
		logger.Warnw("events close", "error", err)
	}
	if mongo != nil {
		_ = mongo.Disconnect(timeoutCtx)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("shutdown completed")
}

// resolvePrincipal prefers the configured token and falls back to the
// configured user id for local runs.
func resolvePrincipal(cfg *config.Config, v *auth.Verifier) (auth.Principal, error) {
	if cfg.Auth.Token != "" {
		if v == nil {
			var err error
			if v, err = auth.NewVerifier("NONE", "", ""); err != nil {
				return auth.Principal{}, err
			}
		}
		p, err := v.Verify(cfg.Auth.Token)
		if err != nil {
			return auth.Principal{}, err
		}
		if p.DisplayNameHint == "" {
			p.DisplayNameHint = cfg.Auth.DisplayName
		}
		if p.IdentityID == "" {
			p.IdentityID = p.ID
		}
		return p, nil
	}
	if cfg.Auth.UserID == "" {
		return auth.Principal{}, fmt.Errorf("auth.token or auth.user_id is required")
	}
	return auth.Principal{ID: cfg.Auth.UserID, DisplayNameHint: cfg.Auth.DisplayName, IdentityID: cfg.Auth.UserID}, nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic), nil
	case "nats":
		return events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
	default:
		return events.Noop{}, nil
	}
}

func logNotices(sess *session.Session, log *zap.SugaredLogger) {
	for n := range sess.Notices() {
		log.Infow("notice", "kind", n.Kind, "op", n.Op, "message", n.Message)
	}
}

// Package api exposes the session to a local shell over HTTP and a websocket
// stream of updates.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/auth"
	"github.com/fathima-sithara/chatsync/internal/blob"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/session"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Options struct {
	RateLimitPerMin int
	// Verifier, when set, requires a bearer token of the session owner on every
	// route except /healthz and /metrics.
	Verifier *auth.Verifier
	Gatherer prometheus.Gatherer
	// Avatars is nil when blob storage is disabled.
	Avatars       *blob.Service
	PingInterval  time.Duration
	MaxUploadSize int
}

type Server struct {
	sess    *session.Session
	avatars *blob.Service
	log     *zap.SugaredLogger
	ping    time.Duration
	limiter *IPRateLimiter
}

func NewServer(opts Options, sess *session.Session, log *zap.SugaredLogger) (*fiber.App, *Server) {
	log = utils.OrNop(log)
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 5 << 20
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             opts.MaxUploadSize + 64<<10,
	})
	s := &Server{sess: sess, avatars: opts.Avatars, log: log, ping: opts.PingInterval}

	app.Use(recover.New())
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(opts.Gatherer)))
	}

	var mw []fiber.Handler
	if opts.Verifier != nil {
		mw = append(mw, RequireOwner(opts.Verifier, sess.Owner(), log))
	}
	if opts.RateLimitPerMin > 0 {
		s.limiter = NewIPRateLimiter(opts.RateLimitPerMin, 10, log)
		mw = append(mw, s.limiter.Handler())
	}
	protected := app.Group("/", mw...)

	protected.Get("/conversations", s.listConversations)
	protected.Post("/conversations/close", s.closeConversation)
	protected.Post("/conversations/:peer/open", s.openConversation)
	protected.Post("/panel/:panel", s.showPanel)
	protected.Get("/transcript", s.transcript)
	protected.Post("/transcript/older", s.loadOlder)
	protected.Post("/messages", s.sendMessage)
	protected.Post("/messages/:id/retry", s.retryMessage)
	protected.Get("/contacts/:peer", s.isContact)
	protected.Post("/contacts", s.addContact)
	protected.Post("/avatars", s.uploadAvatar)
	protected.Get("/avatars/url", s.avatarURL)

	protected.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	protected.Get("/ws", websocket.New(s.stream))

	log.Infow("routes registered", "auth", opts.Verifier != nil, "avatars", opts.Avatars != nil)
	return app, s
}

// SweepVisitors drops idle rate-limit state; main calls it periodically.
func (s *Server) SweepVisitors(idle time.Duration) int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.Sweep(idle)
}

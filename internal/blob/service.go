// Package blob uploads avatar images under the caller's identity prefix and
// resolves signed URLs for stored avatars.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Backend interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Identity interface {
	IdentityID() (string, error)
}

type Progress struct {
	Transferred int64 `json:"transferred"`
	Total       int64 `json:"total"`
}

type Config struct {
	Prefix     string
	PresignTTL time.Duration
	// MaxFailures trips the breaker after that many consecutive backend failures.
	MaxFailures  uint32
	BreakerReset time.Duration
}

type Service struct {
	backend Backend
	cache   URLCache
	ids     Identity
	cb      *gobreaker.CircuitBreaker
	cfg     Config
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewService(backend Backend, cache URLCache, ids Identity, cfg Config, m *metrics.Metrics, log *zap.SugaredLogger) *Service {
	if cfg.Prefix == "" {
		cfg.Prefix = "profile-pictures"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 10 * time.Minute
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	if cache == nil {
		cache = NewMemoryURLCache()
	}
	log = utils.OrNop(log)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blob",
		MaxRequests: 1,
		Timeout:     cfg.BreakerReset,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= cfg.MaxFailures },
		IsSuccessful: func(err error) bool {
			// denials are answers, not outages
			return err == nil || errors.Is(err, apperr.ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Service{backend: backend, cache: cache, ids: ids, cb: cb, cfg: cfg, metrics: m, log: log}
}

// AvatarPath is where the caller's avatar called name is stored.
func (s *Service) AvatarPath(name string) (string, error) {
	name = path.Base("/" + name)
	if name == "/" || name == "." {
		return "", apperr.Validation("blob.AvatarPath", "file name is required")
	}
	id, err := s.ids.IdentityID()
	if err != nil {
		return "", err
	}
	return path.Join(s.cfg.Prefix, id, name), nil
}

// Upload writes data to p, which must sit under the caller's own identity
// prefix. onProgress, when set, sees the running byte count.
func (s *Service) Upload(ctx context.Context, p, contentType string, data []byte, onProgress func(Progress)) (string, error) {
	const op = "blob.Upload"
	if len(data) == 0 {
		return "", apperr.Validation(op, "file is empty")
	}
	id, err := s.ids.IdentityID()
	if err != nil {
		return "", err
	}
	key := path.Clean("/" + p)[1:]
	own := path.Join(s.cfg.Prefix, id) + "/"
	if !strings.HasPrefix(key, own) || key == own {
		s.metrics.Blob("upload", apperr.ErrUnauthorized)
		return "", apperr.Authorization(op, apperr.ErrUnauthorized)
	}

	body := &progressReader{data: data, fn: onProgress}
	_, err = s.cb.Execute(func() (interface{}, error) {
		body.reset()
		return nil, mapErr(s.backend.Put(ctx, key, contentType, body))
	})
	s.metrics.Blob("upload", err)
	if err != nil {
		s.log.Warnw("avatar upload failed", "path", key, "error", err)
		return "", classify(op, err)
	}
	if onProgress != nil && body.sent < int64(len(data)) {
		onProgress(Progress{Transferred: int64(len(data)), Total: int64(len(data))})
	}
	return key, nil
}

// SignedURL resolves a time-limited URL for a stored avatar, caching it for
// half its lifetime.
func (s *Service) SignedURL(ctx context.Context, p string) (string, error) {
	const op = "blob.SignedURL"
	if _, err := s.ids.IdentityID(); err != nil {
		return "", err
	}
	key := path.Clean("/" + p)[1:]
	if !strings.HasPrefix(key, s.cfg.Prefix+"/") {
		return "", apperr.Authorization(op, apperr.ErrUnauthorized)
	}
	if u, err := s.cache.Get(ctx, key); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.log.Debugw("url cache read failed", "path", key, "error", err)
	}

	v, err := s.cb.Execute(func() (interface{}, error) {
		u, err := s.backend.PresignGet(ctx, key, s.cfg.PresignTTL)
		return u, mapErr(err)
	})
	s.metrics.Blob("presign", err)
	if err != nil {
		return "", classify(op, err)
	}
	u := v.(string)
	if err := s.cache.Set(ctx, key, u, s.cfg.PresignTTL/2); err != nil {
		s.log.Debugw("url cache write failed", "path", key, "error", err)
	}
	return u, nil
}

func mapErr(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.Join(apperr.ErrUnauthorized, err)
		}
	}
	return err
}

func classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.System(op, err)
	}
	return apperr.Classify(op, err)
}

type progressReader struct {
	data []byte
	off  int
	sent int64
	fn   func(Progress)
}

func (r *progressReader) reset() {
	r.off = 0
	r.sent = 0
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	r.sent += int64(n)
	if r.fn != nil {
		r.fn(Progress{Transferred: r.sent, Total: int64(len(r.data))})
	}
	return n, nil
}

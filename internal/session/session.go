// Package session is the client shell for one signed-in principal. It owns
// the UI loop on which the conversation list, the open transcript and the
// view state change, and the ledger lane on which summary upserts run in the
// order their triggering events were observed. Store calls never run on the
// UI loop: they run in goroutines and post their results back.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/contacts"
	"github.com/fathima-sithara/chatsync/internal/convlist"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/ledger"
	"github.com/fathima-sithara/chatsync/internal/loop"
	"github.com/fathima-sithara/chatsync/internal/messages"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/readbatch"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
	"github.com/fathima-sithara/chatsync/internal/utils"
	"github.com/fathima-sithara/chatsync/internal/viewing"
)

type Config struct {
	PageSize         int
	ReadBatchTimeout time.Duration
	// AuthFailureDelay is how long an AUTHORIZATION notice stays on screen
	// before the conversation view is closed.
	AuthFailureDelay time.Duration
	Retry            subscription.RetryConfig
}

func DefaultConfig() Config {
	return Config{
		PageSize:         domain.MaxPageSize,
		ReadBatchTimeout: 30 * time.Second,
		AuthFailureDelay: 1500 * time.Millisecond,
		Retry:            subscription.DefaultRetryConfig(),
	}
}

type Deps struct {
	Store     *store.Session
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Log       *zap.SugaredLogger
}

// Notice is a transient user-facing notification.
type Notice struct {
	Kind    apperr.Kind `json:"kind"`
	Op      string      `json:"op,omitempty"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// ListStatus tells a failed initial load apart from an empty list.
type ListStatus struct {
	Loaded bool  `json:"loaded"`
	Err    error `json:"-"`
}

type Session struct {
	cfg     Config
	owner   string
	store   *store.Session
	msgs    *messages.Service
	ledger  *ledger.Ledger
	people  *contacts.Service
	reads   *readbatch.Runner
	pub     events.Publisher
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	ui   *loop.Loop
	lane *loop.Loop
	view *viewing.Reconciler

	// owned by ui
	list       *convlist.List
	listStatus ListStatus
	open       *openConversation
	gen        uint64

	obsMu     sync.Mutex
	observers map[int]func(Update)
	nextObs   int

	feeds   subscription.Set
	notices chan Notice

	busy  atomic.Int64
	posts atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func New(cfg Config, d Deps) *Session {
	def := DefaultConfig()
	if cfg.PageSize <= 0 || cfg.PageSize > domain.MaxPageSize {
		cfg.PageSize = def.PageSize
	}
	if cfg.AuthFailureDelay <= 0 {
		cfg.AuthFailureDelay = def.AuthFailureDelay
	}
	if cfg.Retry == (subscription.RetryConfig{}) {
		cfg.Retry = def.Retry
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	log := utils.OrNop(d.Log).With("owner", d.Store.Principal)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		owner:     d.Store.Principal,
		store:     d.Store,
		pub:       pub,
		metrics:   d.Metrics,
		log:       log,
		ui:        loop.New("ui", log),
		lane:      loop.New("ledger", log),
		view:      viewing.NewReconciler(d.Store.Principal),
		list:      convlist.New(d.Store.Principal),
		observers: make(map[int]func(Update)),
		notices:   make(chan Notice, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.msgs = messages.NewService(d.Store.Messages, log, messages.WithPublisher(pub), messages.WithMetrics(d.Metrics))
	s.ledger = ledger.New(d.Store.Conversations, d.Store.Profiles, d.Metrics, log)
	s.people = contacts.NewService(d.Store.Contacts, d.Store.Profiles, log)
	s.reads = readbatch.NewRunner(s.msgs, laneLedger{s}, pub, d.Metrics, log, cfg.ReadBatchTimeout)
	return s
}

func (s *Session) Owner() string { return s.owner }

// View is safe to call from any goroutine.
func (s *Session) View() viewing.State { return s.view.Snapshot() }

// Start subscribes the application-wide feeds and starts the initial list
// load in the background. A feed that cannot be established after retries is
// reported as a notice and returned.
func (s *Session) Start(ctx context.Context) error {
	if err := s.subscribeFeeds(ctx); err != nil {
		s.feeds.DisposeAll()
		s.postUI(func() { s.notifyErr(err) })
		return err
	}
	s.loadList()
	return nil
}

// Close tears down every feed, stops both loops and closes the store session.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.ui.Do(ctx, func() {
			if s.open != nil {
				s.open.guard.Unsubscribe()
				s.open = nil
			}
		})
		s.feeds.DisposeAll()
		s.cancel()
		s.ui.Stop()
		s.lane.Stop()
		close(s.notices)
		err = s.store.Close(ctx)
		s.log.Infow("session closed")
	})
	return err
}

// Notices delivers user-facing notifications. Notices are dropped when
// nobody drains the channel.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Settle waits until no background work is in flight and both loops are idle.
func (s *Session) Settle(ctx context.Context) error {
	for {
		before := s.posts.Load()
		if err := s.ui.Flush(ctx); err != nil {
			return err
		}
		if err := s.lane.Flush(ctx); err != nil {
			return err
		}
		if err := s.ui.Flush(ctx); err != nil {
			return err
		}
		if s.busy.Load() == 0 && s.posts.Load() == before {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (s *Session) postUI(fn func()) bool {
	s.posts.Add(1)
	return s.ui.Post(fn)
}

func (s *Session) postLane(fn func()) bool {
	s.posts.Add(1)
	return s.lane.Post(fn)
}

// goTrack runs fn in a goroutine that Settle waits for.
func (s *Session) goTrack(fn func()) {
	s.busy.Add(1)
	go func() {
		defer s.busy.Add(-1)
		fn()
	}()
}

// notifyErr must run on the UI loop.
func (s *Session) notifyErr(err error) {
	n := Notice{Kind: apperr.KindOf(err), Message: apperr.UserMessage(err), At: time.Now().UTC()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		n.Op = ae.Op
	}
	select {
	case s.notices <- n:
	default:
		s.log.Debugw("notice dropped", "message", n.Message)
	}
	s.publish(Update{Kind: UpdateNotice, Notice: &n})
}

// laneLedger routes summary resets through the ledger lane so they are
// ordered with the upserts.
type laneLedger struct{ s *Session }

func (l laneLedger) ResetUnread(ctx context.Context, owner, peer string) error {
	var err error
	l.s.posts.Add(1)
	if derr := l.s.lane.Do(ctx, func() {
		err = l.s.ledger.ResetUnread(l.s.ctx, owner, peer)
	}); derr != nil {
		return derr
	}
	return err
}

// poster counts pipeline posts so Settle sees them.
type poster struct{ s *Session }

func (p poster) Post(fn func()) bool { return p.s.postUI(fn) }

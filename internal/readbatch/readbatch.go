// Package readbatch marks a conversation's unread messages as read in the
// background once the owner has seen them. It is best effort: failures are
// logged and counted, never surfaced, and never undo the local reset. When the
// unread listing itself fails the stored summary is left untouched.
package readbatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Messages interface {
	ListUnread(ctx context.Context, conversationID, receiverID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, id string) error
}

type Ledger interface {
	ResetUnread(ctx context.Context, owner, peer string) error
}

type Result struct {
	Listed int
	Marked int
	Failed int
	Err    error
}

// Task is the handle of one detached batch.
type Task struct {
	done   chan struct{}
	result Result
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the batch finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type Runner struct {
	msgs    Messages
	ledger  Ledger
	pub     events.Publisher
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	timeout time.Duration
	// OnDone observes every finished batch.
	OnDone func(owner, peer string, r Result)
}

func NewRunner(msgs Messages, ledger Ledger, pub events.Publisher, m *metrics.Metrics, log *zap.SugaredLogger, timeout time.Duration) *Runner {
	if pub == nil {
		pub = events.Noop{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{msgs: msgs, ledger: ledger, pub: pub, metrics: m, log: utils.OrNop(log), timeout: timeout}
}

// Start launches the batch for owner's conversation with peer and returns at once.
func (r *Runner) Start(ctx context.Context, owner, peer string) *Task {
	t := &Task{done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	go func() {
		defer cancel()
		defer close(t.done)
		t.result = r.run(ctx, owner, peer)
		if r.OnDone != nil {
			r.OnDone(owner, peer, t.result)
		}
	}()
	return t
}

func (r *Runner) run(ctx context.Context, owner, peer string) Result {
	convID := domain.MessageConversationID(owner, peer)
	unread, err := r.msgs.ListUnread(ctx, convID, owner)
	if err != nil {
		// nothing was marked, so the stored summary must keep counting them
		r.log.Warnw("read batch: list unread failed", "conversation_id", convID, "error", err)
		return Result{Err: err}
	}
	res := Result{Listed: len(unread)}
	if n := domain.CalculateUnread(unread, owner); n != len(unread) {
		r.log.Warnw("read batch: listing returned entries that are not unread for the owner",
			"conversation_id", convID, "listed", len(unread), "unread", n)
	}

	var (
		wg     sync.WaitGroup
		marked atomic.Int32
		failed atomic.Int32
	)
	for _, m := range unread {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := r.msgs.MarkRead(ctx, id)
			r.metrics.ReadMark(err)
			if err != nil {
				failed.Add(1)
				r.log.Warnw("read batch: mark read failed", "message_id", id, "error", err)
				return
			}
			marked.Add(1)
		}(m.ID)
	}
	wg.Wait()
	res.Marked = int(marked.Load())
	res.Failed = int(failed.Load())

	if err := r.ledger.ResetUnread(ctx, owner, peer); err != nil {
		r.log.Warnw("read batch: summary reset failed", "owner", owner, "peer", peer, "error", err)
		if res.Err == nil {
			res.Err = err
		}
	}
	if err := r.pub.Publish(ctx, events.Event{
		Type:           events.ConversationRead,
		OwnerID:        owner,
		ConversationID: convID,
		At:             time.Now().UTC(),
		Payload:        map[string]int{"marked": res.Marked, "failed": res.Failed},
	}); err != nil {
		r.log.Debugw("publish conversation.read failed", "conversation_id", convID, "error", err)
	}
	r.log.Debugw("read batch done", "conversation_id", convID, "listed", res.Listed, "marked", res.Marked, "failed", res.Failed)
	return res
}

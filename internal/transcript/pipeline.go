package transcript

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Sender interface {
	Send(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
}

// Poster runs fn on the goroutine that owns the transcript.
type Poster interface {
	Post(fn func()) bool
}

type Hooks struct {
	// OnConfirmed runs on the loop after the store accepted the message.
	OnConfirmed func(tempID string, m domain.Message)
	// OnFailed runs on the loop after the send failed; the entry is already marked failed.
	OnFailed func(tempID string, err error)
}

// Pipeline drives composing -> sending -> sent|failed for one transcript.
// Submit and Retry must be called on the loop that owns the transcript.
type Pipeline struct {
	t      *Transcript
	sender Sender
	loop   Poster
	hooks  Hooks
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewPipeline(t *Transcript, sender Sender, loop Poster, hooks Hooks, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		t:      t,
		sender: sender,
		loop:   loop,
		hooks:  hooks,
		log:    utils.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) Transcript() *Transcript { return p.t }

// Submit validates content, inserts a sending placeholder and sends in the
// background. ctx bounds the background send, so it should outlive the caller's request.
func (p *Pipeline) Submit(ctx context.Context, content string) (domain.Message, error) {
	if err := domain.ValidateContent(content); err != nil {
		return domain.Message{}, err
	}
	tmp := p.t.BeginSend(content, p.now())
	p.send(ctx, tmp.ID, content)
	return tmp, nil
}

// Retry re-sends a failed entry with its original content.
func (p *Pipeline) Retry(ctx context.Context, id string) (domain.Message, error) {
	m, ok := p.t.BeginRetry(id)
	if !ok {
		return domain.Message{}, apperr.Business("transcript.Retry", "message is not in a failed state", apperr.ErrNotFound)
	}
	p.send(ctx, m.ID, m.Content)
	return m, nil
}

func (p *Pipeline) send(ctx context.Context, tempID, content string) {
	owner, peer := p.t.owner, p.t.peer
	go func() {
		confirmed, err := p.sender.Send(ctx, owner, peer, content)
		posted := p.loop.Post(func() {
			if err != nil {
				p.t.Fail(tempID)
				if p.hooks.OnFailed != nil {
					p.hooks.OnFailed(tempID, err)
				}
				return
			}
			p.t.Confirm(tempID, confirmed)
			if p.hooks.OnConfirmed != nil {
				p.hooks.OnConfirmed(tempID, confirmed)
			}
		})
		if !posted {
			p.log.Debugw("send result dropped after loop stop", "temp_id", tempID, "error", err)
		}
	}()
}

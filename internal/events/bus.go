package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mvai/bracket_orchestrator/internal/domain"
)

// liveBuffer sizes the per-subscriber live channel. A subscriber that falls
// this far behind is detached and must resubscribe with its last-seen
// sequence; silently dropping events would create gaps.
const liveBuffer = 64

type Store interface {
	AppendEvent(ctx context.Context, jobID string, typ domain.EventType, payload []byte) (*domain.JobEvent, error)
	EventsAfter(ctx context.Context, jobID string, after int64) ([]*domain.JobEvent, error)
}

// Bus persists an ordered, gapless event log per job and fans live updates
// out to at most one active subscriber connection per job. The subscriber
// registry is owned here and torn down explicitly on disconnect.
type Bus struct {
	log   *slog.Logger
	store Store

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	jobID string
	live  chan *domain.JobEvent
	done  chan struct{}
}

func NewBus(log *slog.Logger, store Store) *Bus {
	return &Bus{
		log:   log,
		store: store,
		subs:  make(map[string]*subscriber),
	}
}

// Append persists the event under the next per-job sequence number and pushes
// it to the job's live subscriber if one is attached.
func (b *Bus) Append(ctx context.Context, jobID string, typ domain.EventType, payload []byte) (int64, error) {
	event, err := b.store.AppendEvent(ctx, jobID, typ, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[jobID]
	if !ok {
		return event.Sequence, nil
	}

	select {
	case sub.live <- event:
	default:
		// Subscriber is not keeping up. Detach it rather than skip events;
		// it resumes from its last-seen sequence on reconnect.
		b.log.WarnContext(ctx, "live subscriber too slow, detaching",
			slog.String("job_id", jobID),
			slog.Int64("sequence", event.Sequence),
		)
		b.detachLocked(sub)
	}

	return event.Sequence, nil
}

// Subscription is one live event stream. Close releases the registry slot.
type Subscription struct {
	Events <-chan *domain.JobEvent
	close  func()
}

func (s *Subscription) Close() {
	s.close()
}

// Subscribe attaches the job's single live subscriber, replacing and closing
// any previous one. Persisted events with sequence greater than resumeFrom
// are replayed in order before live delivery starts; the watermark guarantees
// no event is delivered twice and none is skipped.
func (b *Bus) Subscribe(ctx context.Context, jobID string, resumeFrom int64) *Subscription {
	sub := &subscriber{
		jobID: jobID,
		live:  make(chan *domain.JobEvent, liveBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if prev, ok := b.subs[jobID]; ok {
		b.detachLocked(prev)
	}
	b.subs[jobID] = sub
	b.mu.Unlock()

	out := make(chan *domain.JobEvent, 16)

	go b.run(ctx, sub, out, resumeFrom)

	return &Subscription{
		Events: out,
		close: func() {
			b.mu.Lock()
			if b.subs[sub.jobID] == sub {
				b.detachLocked(sub)
			}
			b.mu.Unlock()
		},
	}
}

// run replays the persisted backlog and then forwards live pushes. The
// subscriber is registered before the backlog query, so an event is either in
// the query result or in the live channel; the watermark drops the overlap.
func (b *Bus) run(ctx context.Context, sub *subscriber, out chan<- *domain.JobEvent, resumeFrom int64) {
	defer close(out)

	watermark := resumeFrom

	backlog, err := b.store.EventsAfter(ctx, sub.jobID, resumeFrom)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to replay events",
			slog.String("job_id", sub.jobID),
			slog.String("err", err.Error()),
		)
		return
	}

	for _, event := range backlog {
		if !b.deliver(ctx, sub, out, event) {
			return
		}
		watermark = event.Sequence
	}

	for {
		select {
		case event, ok := <-sub.live:
			if !ok {
				return
			}
			if event.Sequence <= watermark {
				continue
			}
			if !b.deliver(ctx, sub, out, event) {
				return
			}
			watermark = event.Sequence

		case <-sub.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscriber, out chan<- *domain.JobEvent, event *domain.JobEvent) bool {
	select {
	case out <- event:
		return true
	case <-sub.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Bus) detachLocked(sub *subscriber) {
	if b.subs[sub.jobID] == sub {
		delete(b.subs, sub.jobID)
	}
	close(sub.done)
}

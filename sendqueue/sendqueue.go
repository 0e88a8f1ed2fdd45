// Package sendqueue serializes outbound chat messages per platform. Each
// platform gets one worker goroutine, so sends to the same platform never
// interleave and platform rate limits degrade gracefully under load.
package sendqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/telemetry"
)

// Sender delivers one outbound message on a platform. Connectors implement it.
type Sender func(ctx context.Context, text string) error

// queueCapacity bounds pending sends per platform. Beyond this, Enqueue
// reports backpressure instead of buffering without limit.
const queueCapacity = 128

type job struct {
	ctx    context.Context
	text   string
	result chan error
}

// Queue owns one worker per registered platform. Register every sender before
// Start; the set is fixed afterwards.
type Queue struct {
	senders map[events.Platform]Sender
	jobs    map[events.Platform]chan job
	started atomic.Bool
}

func New() *Queue {
	return &Queue{
		senders: make(map[events.Platform]Sender),
		jobs:    make(map[events.Platform]chan job),
	}
}

// RegisterSender binds a platform to its delivery function. Must be called
// before Start.
func (q *Queue) RegisterSender(p events.Platform, s Sender) {
	if q.started.Load() {
		panic("sendqueue: RegisterSender after Start")
	}
	q.senders[p] = s
	q.jobs[p] = make(chan job, queueCapacity)
}

// Start launches one worker goroutine per registered platform. Workers exit
// when ctx ends.
func (q *Queue) Start(ctx context.Context) {
	q.started.Store(true)
	for p, ch := range q.jobs {
		go q.work(ctx, p, ch)
	}
}

func (q *Queue) work(ctx context.Context, p events.Platform, ch chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			if telemetry.SendQueueDepth != nil {
				telemetry.SendQueueDepth.WithLabelValues(string(p)).Set(float64(len(ch)))
			}
			err := q.senders[p](j.ctx, j.text)
			if err != nil {
				if telemetry.SendFailures != nil {
					telemetry.SendFailures.WithLabelValues(string(p)).Inc()
				}
				slog.Warn("outbound send failed", slog.String("platform", string(p)), slog.Any("err", err))
			}
			j.result <- err
		}
	}
}

// Enqueue submits an outbound message and waits for the worker's verdict, so
// callers get a real delivery error rather than fire-and-forget. A platform
// with no registered sender is a configuration error, not a silent drop.
func (q *Queue) Enqueue(ctx context.Context, p events.Platform, text string) error {
	ch, ok := q.jobs[p]
	if !ok {
		return fmt.Errorf("no sender registered for platform %q", p)
	}
	// Without a running worker the job would sit in the channel until the
	// caller's context expired; treat it as the configuration error it is.
	if !q.started.Load() {
		return fmt.Errorf("send queue not started")
	}
	if text == "" {
		return fmt.Errorf("message empty")
	}
	j := job{ctx: ctx, text: text, result: make(chan error, 1)}
	select {
	case ch <- j:
	default:
		return fmt.Errorf("send queue full for platform %q", p)
	}
	if telemetry.SendsEnqueued != nil {
		telemetry.SendsEnqueued.WithLabelValues(string(p)).Inc()
	}
	if telemetry.SendQueueDepth != nil {
		telemetry.SendQueueDepth.WithLabelValues(string(p)).Set(float64(len(ch)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-j.result:
		return err
	}
}

// Depth reports the number of pending sends for a platform.
func (q *Queue) Depth(p events.Platform) int {
	ch, ok := q.jobs[p]
	if !ok {
		return 0
	}
	return len(ch)
}

// Package fetchqueue serializes outbound fetches: requests run one at a time
// in submission order while each caller waits on its own Pending result.
package fetchqueue

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/transport"
)

// Fetcher performs a single GET of a fully built URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*transport.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*transport.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*transport.Response, error) {
	return f(ctx, url)
}

// QueuedRequest is owned by the queue until its fetch settles.
type QueuedRequest struct {
	ID  uuid.UUID
	URL string

	ctx     context.Context
	pending *Pending
}

// Pending is the caller's handle on a queued request.
type Pending struct {
	id   uuid.UUID
	done chan struct{}
	resp *transport.Response
	err  error
}

func newPending(id uuid.UUID) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func (p *Pending) settle(resp *transport.Response, err error) {
	p.resp, p.err = resp, err
	close(p.done)
}

// ID returns the request id.
func (p *Pending) ID() uuid.UUID { return p.id }

// Done is closed once the request has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request settles or ctx ends. Returning on ctx does not
// remove the request from the queue; its later result is simply dropped.
func (p *Pending) Wait(ctx context.Context) (*transport.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue is a FIFO of fetches drained by at most one goroutine.
type Queue struct {
	fetcher Fetcher
	log     *zap.Logger

	mu         sync.Mutex
	items      []*QueuedRequest
	processing bool
	closed     bool
}

// Option configures Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.log = l } }

// New constructs an empty queue over fetcher.
func New(fetcher Fetcher, opts ...Option) *Queue {
	q := &Queue{fetcher: fetcher, log: zap.NewNop()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends url to the tail and returns its Pending. It never fails
// synchronously; errors, including ErrQueueClosed, arrive through Pending.
// The request is skipped without a network call if ctx ends before its turn.
func (q *Queue) Enqueue(ctx context.Context, url string) *Pending {
	id := uuid.Must(uuid.NewV4())
	p := newPending(id)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		p.settle(nil, errs.ErrQueueClosed)
		return p
	}
	q.items = append(q.items, &QueuedRequest{ID: id, URL: url, ctx: ctx, pending: p})
	start := !q.processing
	q.processing = true
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return p
}

// Fetch enqueues url and waits for its result.
func (q *Queue) Fetch(ctx context.Context, url string) (*transport.Response, error) {
	return q.Enqueue(ctx, url).Wait(ctx)
}

// Len reports queued requests, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting requests. Already queued requests still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.mu.Unlock()

		resp, err := q.run(head)

		q.mu.Lock()
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		head.pending.settle(resp, err)
		q.log.Debug("fetch settled",
			zap.String("request_id", head.ID.String()),
			zap.Bool("ok", err == nil),
		)
	}
}

func (q *Queue) run(r *QueuedRequest) (*transport.Response, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	q.log.Debug("fetch start", zap.String("request_id", r.ID.String()))
	return q.fetcher.Fetch(transport.WithRequestID(r.ctx, r.ID.String()), r.URL)
}

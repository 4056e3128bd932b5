// Package preview drives link preview cards from pending to resolved or
// failed by unfurling their href outside the transaction engine.
package preview

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"folio/api/internal/command"
	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/unfurl"
	"folio/api/internal/util"
)

var ErrClosed = errors.New("preview coordinator closed")

// Executor is the part of *command.Pipeline the coordinator uses.
type Executor interface {
	Exec(name string, args command.Args) error
}

type Options struct {
	// Timeout bounds one fetch. Defaults to unfurl.DefaultTimeout.
	Timeout time.Duration
	// OnSettle is called once per fetch that was not superseded or cancelled.
	OnSettle func(id string, phase linkpreview.Phase, elapsed time.Duration)
}

type job struct {
	href   string
	cancel context.CancelFunc
}

// Coordinator owns the in-flight fetch of every card. A newer Resolve for
// the same card aborts the older fetch, and only the latest settlement is
// written back to the document.
type Coordinator struct {
	unfurler unfurl.Unfurler
	opts     Options
	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	executor Executor
	jobs     map[string]*job
	phases   map[string]linkpreview.Phase
	closed   bool
}

func New(u unfurl.Unfurler, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = unfurl.DefaultTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		unfurler: u,
		opts:     opts,
		ctx:      ctx,
		stop:     stop,
		jobs:     map[string]*job{},
		phases:   map[string]linkpreview.Phase{},
	}
}

// Bind sets the pipeline settlements are written through. The pipeline is
// built after the registry that references the coordinator, so it is bound
// late.
func (c *Coordinator) Bind(e Executor) {
	c.mu.Lock()
	c.executor = e
	c.mu.Unlock()
}

// Insert adds a card for href at the selection and starts resolving it.
func (c *Coordinator) Insert(href string) (string, error) {
	c.mu.Lock()
	e, closed := c.executor, c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if e == nil {
		return "", errors.New("preview coordinator not bound")
	}
	if _, err := unfurl.Normalize(href); err != nil {
		return "", err
	}
	id := util.NewID("lp")
	if err := e.Exec("insertLinkPreview", command.Args{"id": id, "href": href}); err != nil {
		return "", err
	}
	c.Ensure(id, href)
	return id, nil
}

// Ensure resolves the card id unless a fetch for it is running or has
// settled. Widgets call it when a card without metadata mounts, which covers
// cards restored by undo and cards saved while their fetch was in flight.
func (c *Coordinator) Ensure(id, href string) {
	c.mu.Lock()
	_, seen := c.phases[id]
	c.mu.Unlock()
	if !seen {
		c.Resolve(id, href)
	}
}

// Resolve fetches metadata for the card id, superseding any fetch already
// running for it.
func (c *Coordinator) Resolve(id, href string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if prev, ok := c.jobs[id]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
	j := &job{href: href, cancel: cancel}
	c.jobs[id] = j
	c.phases[id] = linkpreview.PhasePending

	c.wg.Add(1)
	go c.run(ctx, id, j)
}

func (c *Coordinator) run(ctx context.Context, id string, j *job) {
	defer c.wg.Done()
	defer j.cancel()
	started := time.Now()
	res, err := c.unfurler.Unfurl(ctx, j.href)

	c.mu.Lock()
	if c.jobs[id] != j {
		c.mu.Unlock()
		return
	}
	delete(c.jobs, id)
	e := c.executor
	phase := linkpreview.PhaseResolved
	if err != nil {
		phase = linkpreview.PhaseFailed
	}
	c.phases[id] = phase
	c.mu.Unlock()

	if err != nil {
		log.Printf("preview: unfurl %s for %s failed: %v", j.href, id, err)
	} else if attrs := resultAttrs(res); len(attrs) > 0 && e != nil {
		// the card may have been deleted meanwhile; a miss changes nothing
		if err := e.Exec("updateAtomicNodeById", command.Args{"id": id, "attrs": attrs}); err != nil && !errors.Is(err, command.ErrPreconditionFailed) {
			log.Printf("preview: update %s: %v", id, err)
		}
	}
	if c.opts.OnSettle != nil {
		c.opts.OnSettle(id, phase, time.Since(started))
	}
}

// resultAttrs keeps only the fields the page provided, so a settlement
// never clears metadata.
func resultAttrs(res unfurl.Result) map[string]any {
	attrs := map[string]any{}
	for key, v := range map[string]*string{"title": res.Title, "description": res.Description, "image": res.Image} {
		if v != nil {
			attrs[key] = *v
		}
	}
	return attrs
}

// Cancel aborts the fetch for id. Widgets call it on teardown.
func (c *Coordinator) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[id]; ok {
		j.cancel()
		delete(c.jobs, id)
	}
	delete(c.phases, id)
}

// Status implements linkpreview.StatusSource.
func (c *Coordinator) Status(id string) linkpreview.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[id]; ok {
		return p
	}
	return linkpreview.PhaseIdle
}

// Pending reports the number of fetches in flight.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Wait blocks until every started fetch has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all fetches and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.jobs = map[string]*job{}
	c.mu.Unlock()
	c.stop()
	c.wg.Wait()
}

package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"folio/api/internal/command"
	"folio/api/internal/extensions/linkpreview"
	"folio/api/internal/unfurl"
)

type call struct {
	name string
	args command.Args
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []call
	execFn func(name string, args command.Args) error
}

func (f *fakeExecutor) Exec(name string, args command.Args) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()
	if f.execFn != nil {
		return f.execFn(name, args)
	}
	return nil
}

func (f *fakeExecutor) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeUnfurler struct {
	unfurlFn func(ctx context.Context, rawURL string) (unfurl.Result, error)
}

func (f *fakeUnfurler) Unfurl(ctx context.Context, rawURL string) (unfurl.Result, error) {
	return f.unfurlFn(ctx, rawURL)
}

func str(s string) *string { return &s }

func TestResolveMergesMetadata(t *testing.T) {
	exec := &fakeExecutor{}
	var settled []linkpreview.Phase
	c := New(&fakeUnfurler{unfurlFn: func(_ context.Context, u string) (unfurl.Result, error) {
		return unfurl.Result{URL: u, Title: str("Example"), Image: str("https://example.com/i.png")}, nil
	}}, Options{OnSettle: func(_ string, p linkpreview.Phase, _ time.Duration) { settled = append(settled, p) }})
	c.Bind(exec)
	defer c.Close()

	c.Resolve("p1", "https://example.com")
	c.Wait()

	calls := exec.recorded()
	if len(calls) != 1 || calls[0].name != "updateAtomicNodeById" {
		t.Fatalf("calls = %+v", calls)
	}
	attrs := calls[0].args["attrs"].(map[string]any)
	if attrs["title"] != "Example" || attrs["image"] != "https://example.com/i.png" {
		t.Fatalf("attrs = %v", attrs)
	}
	if _, ok := attrs["description"]; ok {
		t.Fatal("absent fields must not be merged")
	}
	if got := c.Status("p1"); got != linkpreview.PhaseResolved {
		t.Fatalf("Status() = %s", got)
	}
	if len(settled) != 1 || settled[0] != linkpreview.PhaseResolved {
		t.Fatalf("settled = %v", settled)
	}
}

func TestResolveFailureLeavesAttributes(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(&fakeUnfurler{unfurlFn: func(context.Context, string) (unfurl.Result, error) {
		return unfurl.Result{}, &unfurl.UpstreamStatusError{Status: 404}
	}}, Options{})
	c.Bind(exec)
	defer c.Close()

	c.Resolve("p1", "https://example.com/missing")
	c.Wait()

	if calls := exec.recorded(); len(calls) != 0 {
		t.Fatalf("failed fetch must not touch the document, calls = %+v", calls)
	}
	if got := c.Status("p1"); got != linkpreview.PhaseFailed {
		t.Fatalf("Status() = %s", got)
	}
}

func TestSupersedingResolveAbortsPriorFetch(t *testing.T) {
	exec := &fakeExecutor{}
	firstStarted := make(chan struct{})
	firstErr := make(chan error, 1)
	c := New(&fakeUnfurler{unfurlFn: func(ctx context.Context, u string) (unfurl.Result, error) {
		if u == "https://old.test" {
			close(firstStarted)
			<-ctx.Done()
			firstErr <- ctx.Err()
			return unfurl.Result{URL: u, Title: str("Old")}, nil
		}
		return unfurl.Result{URL: u, Title: str("New")}, nil
	}}, Options{})
	c.Bind(exec)
	defer c.Close()

	c.Resolve("p1", "https://old.test")
	<-firstStarted
	c.Resolve("p1", "https://new.test")
	c.Wait()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("prior fetch context error = %v", err)
	}
	calls := exec.recorded()
	if len(calls) != 1 || calls[0].args["attrs"].(map[string]any)["title"] != "New" {
		t.Fatalf("only the newest settlement may be applied, calls = %+v", calls)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d", c.Pending())
	}
}

func TestCancelOnTeardown(t *testing.T) {
	exec := &fakeExecutor{}
	started := make(chan struct{})
	c := New(&fakeUnfurler{unfurlFn: func(ctx context.Context, u string) (unfurl.Result, error) {
		close(started)
		<-ctx.Done()
		return unfurl.Result{}, ctx.Err()
	}}, Options{})
	c.Bind(exec)
	defer c.Close()

	c.Resolve("p1", "https://slow.test")
	<-started
	if got := c.Status("p1"); got != linkpreview.PhasePending {
		t.Fatalf("Status() = %s, want pending", got)
	}
	c.Cancel("p1")
	c.Wait()

	if calls := exec.recorded(); len(calls) != 0 {
		t.Fatalf("cancelled fetch must not settle, calls = %+v", calls)
	}
	if got := c.Status("p1"); got != linkpreview.PhaseIdle {
		t.Fatalf("Status() = %s, want idle", got)
	}
}

func TestFetchTimeout(t *testing.T) {
	c := New(&fakeUnfurler{unfurlFn: func(ctx context.Context, _ string) (unfurl.Result, error) {
		<-ctx.Done()
		return unfurl.Result{}, ctx.Err()
	}}, Options{Timeout: 20 * time.Millisecond})
	c.Bind(&fakeExecutor{})
	defer c.Close()

	c.Resolve("p1", "https://slow.test")
	c.Wait()
	if got := c.Status("p1"); got != linkpreview.PhaseFailed {
		t.Fatalf("Status() = %s, want failed", got)
	}
}

func TestInsert(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(&fakeUnfurler{unfurlFn: func(_ context.Context, u string) (unfurl.Result, error) {
		return unfurl.Result{URL: u}, nil
	}}, Options{})
	c.Bind(exec)
	defer c.Close()

	id, err := c.Insert("example.com")
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	c.Wait()
	calls := exec.recorded()
	if len(calls) != 1 || calls[0].name != "insertLinkPreview" || calls[0].args.String("id") != id {
		t.Fatalf("calls = %+v", calls)
	}
	if c.Status(id) != linkpreview.PhaseResolved {
		t.Fatalf("Status() = %s", c.Status(id))
	}

	if _, err := c.Insert("not a url!!"); !errors.Is(err, unfurl.ErrMalformedURL) {
		t.Fatalf("expected ErrMalformedURL, got %v", err)
	}
	if len(exec.recorded()) != 1 {
		t.Fatal("malformed href must not reach the document")
	}
}

func TestInsertFailureStartsNoFetch(t *testing.T) {
	exec := &fakeExecutor{execFn: func(string, command.Args) error {
		return command.Failed("insertLinkPreview", "no room")
	}}
	c := New(&fakeUnfurler{unfurlFn: func(context.Context, string) (unfurl.Result, error) {
		t.Error("unfurl must not run")
		return unfurl.Result{}, nil
	}}, Options{})
	c.Bind(exec)
	defer c.Close()

	if _, err := c.Insert("https://example.com"); !errors.Is(err, command.ErrPreconditionFailed) {
		t.Fatalf("Insert() error = %v", err)
	}
	if c.Pending() != 0 {
		t.Fatal("no fetch expected")
	}
}

func TestEnsureSkipsKnownCards(t *testing.T) {
	var mu sync.Mutex
	fetched := map[string]int{}
	c := New(&fakeUnfurler{unfurlFn: func(_ context.Context, u string) (unfurl.Result, error) {
		mu.Lock()
		fetched[u]++
		mu.Unlock()
		return unfurl.Result{URL: u, Title: str("T")}, nil
	}}, Options{})
	c.Bind(&fakeExecutor{})
	defer c.Close()

	c.Ensure("lp_1", "https://a.test")
	c.Wait()
	c.Ensure("lp_1", "https://a.test")
	c.Wait()
	if fetched["https://a.test"] != 1 {
		t.Fatalf("settled card fetched %d times", fetched["https://a.test"])
	}

	// teardown forgets the card, so a restored copy fetches again
	c.Cancel("lp_1")
	c.Ensure("lp_1", "https://a.test")
	c.Wait()
	if fetched["https://a.test"] != 2 || c.Status("lp_1") != linkpreview.PhaseResolved {
		t.Fatalf("fetches = %d, status %s", fetched["https://a.test"], c.Status("lp_1"))
	}
}

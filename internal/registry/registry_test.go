package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
)

func TestResolvePrefixMatching(t *testing.T) {
	r := New(StrategyPrefixMatching, map[string]*domain.RuntimeEndpoint{
		"nodejs": {Language: "nodejs", BaseURL: "http://nodejs:9000"},
		"python": {Language: "python", BaseURL: "http://python:9001"},
	})

	ep, err := r.Resolve("nodejs-calculator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.BaseURL != "http://nodejs:9000" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}

	if _, err := r.Resolve("klingon-foo"); !errors.Is(err, ErrUnknownRuntime) {
		t.Fatalf("expected ErrUnknownRuntime, got %v", err)
	}
}

func TestResolveExact(t *testing.T) {
	r := New(StrategyExact, map[string]*domain.RuntimeEndpoint{
		"nodejs-calculator": {Language: "nodejs", BaseURL: "http://nodejs:9000"},
	})

	if _, err := r.Resolve("nodejs"); !errors.Is(err, ErrUnknownRuntime) {
		t.Fatalf("exact strategy should not fall back to prefix, got %v", err)
	}
	ep, err := r.Resolve("nodejs-calculator")
	if err != nil || ep.BaseURL != "http://nodejs:9000" {
		t.Fatalf("unexpected resolve result: %+v, %v", ep, err)
	}
}

func TestReplaceAllIsAtomicFromReaderPerspective(t *testing.T) {
	r := New(StrategyPrefixMatching, map[string]*domain.RuntimeEndpoint{
		"nodejs": {Language: "nodejs", BaseURL: "http://old:9000"},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.ReplaceAll(map[string]*domain.RuntimeEndpoint{
				"nodejs": {Language: "nodejs", BaseURL: "http://new:9000"},
			})
		}
	}()

	for i := 0; i < 1000; i++ {
		ep, err := r.Resolve("nodejs-x")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ep.BaseURL != "http://old:9000" && ep.BaseURL != "http://new:9000" {
			t.Fatalf("torn read: %+v", ep)
		}
	}
	<-done
}

type fakeSource struct {
	table map[string]*domain.RuntimeEndpoint
	calls int
}

func (f *fakeSource) Discover(ctx context.Context) (map[string]*domain.RuntimeEndpoint, error) {
	f.calls++
	return f.table, nil
}

func TestPollerRefreshesOnInterval(t *testing.T) {
	r := New(StrategyPrefixMatching, nil)
	src := &fakeSource{table: map[string]*domain.RuntimeEndpoint{
		"nodejs": {Language: "nodejs", BaseURL: "http://discovered:9000"},
	}}
	p := NewPoller(r, src, 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if src.calls < 2 {
		t.Fatalf("expected at least 2 discovery refreshes, got %d", src.calls)
	}
	ep, err := r.Resolve("nodejs-x")
	if err != nil || ep.BaseURL != "http://discovered:9000" {
		t.Fatalf("expected discovered endpoint, got %+v, %v", ep, err)
	}
}

func TestMarkHealth(t *testing.T) {
	r := New(StrategyPrefixMatching, map[string]*domain.RuntimeEndpoint{
		"nodejs": {Language: "nodejs", BaseURL: "http://nodejs:9000", Health: "ok"},
	})
	r.MarkHealth("nodejs", "degraded")
	ep, _ := r.Resolve("nodejs-calc")
	if ep.Health != "degraded" {
		t.Fatalf("expected degraded health, got %s", ep.Health)
	}
}

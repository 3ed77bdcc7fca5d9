package artifactcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/cache"
)

func TestGetOrBuildSingleFlight(t *testing.T) {
	backend := cache.NewInMemoryCache()
	defer backend.Close()
	c := New(backend, time.Minute)

	var builds int32
	build := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(50 * time.Millisecond)
		return []byte("artifact"), nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrBuild(context.Background(), "k", build)
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected exactly 1 build, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d got error: %v", i, errs[i])
		}
		if string(results[i]) != "artifact" {
			t.Fatalf("caller %d got %q, want %q", i, results[i], "artifact")
		}
	}
}

func TestGetOrBuildFailureNotCached(t *testing.T) {
	backend := cache.NewInMemoryCache()
	defer backend.Close()
	c := New(backend, time.Minute)

	boom := errors.New("boom")
	var attempt int32
	build := func(ctx context.Context) ([]byte, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	_, err := c.GetOrBuild(context.Background(), "k", build)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}

	val, err := c.GetOrBuild(context.Background(), "k", build)
	if err != nil {
		t.Fatalf("second build should succeed, got %v", err)
	}
	if string(val) != "ok" {
		t.Fatalf("expected 'ok', got %q", val)
	}
	if atomic.LoadInt32(&attempt) != 2 {
		t.Fatalf("expected builder invoked twice (failure not cached), got %d", attempt)
	}
}

func TestGetOrBuildTTLExpiry(t *testing.T) {
	backend := cache.NewInMemoryCache()
	defer backend.Close()
	c := New(backend, 20*time.Millisecond)

	var builds int32
	build := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&builds, 1)
		return []byte("v"), nil
	}

	if _, err := c.GetOrBuild(context.Background(), "k", build); err != nil {
		t.Fatal(err)
	}
	// expire the in-process entry and the backend copy
	time.Sleep(30 * time.Millisecond)
	_ = backend.Delete(context.Background(), "k")

	if _, err := c.GetOrBuild(context.Background(), "k", build); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&builds); got != 2 {
		t.Fatalf("expected a rebuild after expiry, got %d builds", got)
	}
}

func TestGetOrBuildCancelledWaiterDoesNotAbortBuilder(t *testing.T) {
	backend := cache.NewInMemoryCache()
	defer backend.Close()
	c := New(backend, time.Minute)

	release := make(chan struct{})
	build := func(ctx context.Context) ([]byte, error) {
		<-release
		return []byte("done"), nil
	}

	builderDone := make(chan struct{})
	var builderVal []byte
	go func() {
		v, _ := c.GetOrBuild(context.Background(), "k", build)
		builderVal = v
		close(builderDone)
	}()

	// Give the first caller time to register as the builder before the
	// second (cancellable) caller arrives and parks as a waiter.
	time.Sleep(20 * time.Millisecond)

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrBuild(waiterCtx, "k", build)
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-waiterErr; !errors.Is(err, ErrBuildCancelled) {
		t.Fatalf("expected ErrBuildCancelled, got %v", err)
	}

	close(release)
	<-builderDone
	if string(builderVal) != "done" {
		t.Fatalf("builder should still complete successfully, got %q", builderVal)
	}
}

func TestKeyIncludesLanguageTitle(t *testing.T) {
	k1 := Key("nodejs-calc", "hash", "-")
	k2 := Key("python-calc", "hash", "-")
	if k1 == k2 {
		t.Fatal("expected distinct keys for distinct language titles with identical script hash")
	}
}

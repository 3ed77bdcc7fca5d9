package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

func TestListAppliesDefaultsAndDelegates(t *testing.T) {
	s := store.NewInMemoryFunctionStore([]*domain.Function{
		{LanguageTitle: "nodejs-calc", IsActive: true},
		{LanguageTitle: "python-calc", IsActive: true},
	})
	c := New(s)

	total, fns, err := c.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(fns) != 2 {
		t.Fatalf("expected default page/per_page to return both entries, got total=%d len=%d", total, len(fns))
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := store.NewInMemoryFunctionStore(nil)
	c := New(s)

	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

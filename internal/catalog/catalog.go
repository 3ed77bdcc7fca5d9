// Package catalog implements the Function Catalog (C6): a read-only
// projection over the Session Store's catalog tables (§4.6).
package catalog

import (
	"context"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

// DefaultPerPage mirrors the teacher's pagination defaults
// (func_handlers.go / pagination.go) when a caller omits per_page.
const DefaultPerPage = 20

// Catalog is the Function Catalog (C6). It adds no caching of its own;
// "cache-through of the catalog is optional" (§4.6) and this controller
// leans on the backing store's own query latency rather than adding a
// second cache layer in front of an already-small, rarely-changing
// table.
type Catalog struct {
	store store.FunctionStore
}

// New creates a Catalog backed by the given FunctionStore.
func New(s store.FunctionStore) *Catalog {
	return &Catalog{store: s}
}

// List returns a page of catalog entries plus the total active count.
func (c *Catalog) List(ctx context.Context, page, perPage int) (int, []*domain.Function, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	return c.store.List(ctx, page, perPage)
}

// Get returns the catalog entry for language_title, or store.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, languageTitle string) (*domain.Function, error) {
	return c.store.Get(ctx, languageTitle)
}

// Script returns the catalog fallback script body for language_title,
// used by the Dispatch Engine when an Initialize request omits
// script_content (§4.7 step 1).
func (c *Catalog) Script(ctx context.Context, languageTitle string) (*domain.ScriptRecord, error) {
	return c.store.GetScript(ctx, languageTitle)
}

package registry

import (
	"testing"

	"github.com/careerscope/jobharvester/internal/scrape"
)

func validTarget(id string, active bool) scrape.Target {
	return scrape.Target{
		ID:      id,
		Name:    id,
		BaseURL: "https://" + id + ".example",
		Selectors: scrape.Selectors{
			Container: ".job",
			Title:     ".title",
		},
		Pagination: scrape.Pagination{
			Mode:     scrape.PaginationByPage,
			Param:    "page",
			MaxPages: 5,
		},
		IsActive: active,
	}
}

func TestRegistry_GetAndListActive(t *testing.T) {
	t.Parallel()

	r, err := New([]scrape.Target{
		validTarget("b", true),
		validTarget("a", true),
		validTarget("c", false),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected target a")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected target")
	}

	active := r.ListActive()
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("active = %+v", active)
	}
	if len(r.ListAll()) != 3 {
		t.Fatalf("expected 3 targets in total")
	}
}

func TestRegistry_Validation(t *testing.T) {
	t.Parallel()

	bad := validTarget("x", true)
	bad.Pagination.MaxPages = 0
	if _, err := New([]scrape.Target{bad}); err == nil {
		t.Fatal("expected max_pages validation error")
	}

	offset := validTarget("y", true)
	offset.Pagination.Mode = scrape.PaginationByOffset
	offset.Pagination.PageSize = 0
	if _, err := New([]scrape.Target{offset}); err == nil {
		t.Fatal("expected page_size validation error for offset mode")
	}

	if _, err := New([]scrape.Target{validTarget("z", true), validTarget("z", true)}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

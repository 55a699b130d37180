package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryRepositorySummaries(t *testing.T) {
	repo := NewMemoryRepository()
	named := uuid.New()
	anon := uuid.New()
	repo.Put(named, "Ada")
	repo.Put(anon, "")

	got, err := repo.GetSummaries(context.Background(), []uuid.UUID{named, anon, uuid.New()})
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[named].DisplayName() != "Ada" {
		t.Fatalf("unexpected name: %#v", got[named])
	}
	if got[anon].Name != nil {
		t.Fatalf("expected nil name for anonymous user")
	}
}

func TestMemoryRepositoryGetByIDMissing(t *testing.T) {
	u, err := NewMemoryRepository().GetByID(context.Background(), uuid.New())
	if err != nil || u != nil {
		t.Fatalf("expected nil, nil; got %#v, %v", u, err)
	}
}

func TestMemoryRepositorySearchByName(t *testing.T) {
	repo := NewMemoryRepository()
	self, ann, anna, bob := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	repo.Put(self, "Annika")
	repo.Put(ann, "Ann")
	repo.Put(anna, "anna")
	repo.Put(bob, "Bob")
	repo.Put(uuid.New(), "")

	got, err := repo.SearchByName(context.Background(), "ANN", self, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != ann || got[1].ID != anna {
		t.Fatalf("expected Ann then anna without the caller, got %#v", got)
	}

	got, _ = repo.SearchByName(context.Background(), "n", self, 1)
	if len(got) != 1 {
		t.Fatalf("expected limit to cap results, got %d", len(got))
	}
}

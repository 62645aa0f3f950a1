package db

import (
	"context"
	"testing"
)

func TestUsageRepoInsertListPrune(t *testing.T) {
	database := openTestDB(t)
	repo := database.Usage()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		sample := &UsageSample{
			TraceBytes:      uint64(i * 1024),
			OutputBytes:     uint64(i),
			ActiveProcesses: i,
			LiveSessions:    i,
		}
		if err := repo.Insert(ctx, sample); err != nil {
			t.Fatalf("Insert() #%d error = %v", i, err)
		}
		if sample.ID == 0 {
			t.Fatalf("Insert() #%d did not assign id", i)
		}
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(ListRecent(2)) = %d, want 2", len(recent))
	}
	if recent[0].TraceBytes != 5*1024 || recent[0].ActiveProcesses != 5 {
		t.Fatalf("newest sample = %+v", recent[0])
	}
	if recent[0].SampledAt.IsZero() {
		t.Fatal("sampled_at not set")
	}

	removed, err := repo.Prune(ctx, 3)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("Prune() removed %d, want 2", removed)
	}

	all, err := repo.ListRecent(ctx, 100)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len after prune = %d, want 3", len(all))
	}
	if all[len(all)-1].TraceBytes != 3*1024 {
		t.Fatalf("oldest kept sample = %+v", all[len(all)-1])
	}
}

package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/ledger"
	"chronicle/internal/migrate"
)

func newLedger(t *testing.T) (ledger.Ledger, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l := ledger.New(conn)
	l.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return l, context.Background()
}

func TestCreateActStartsDraft(t *testing.T) {
	l, ctx := newLedger(t)
	a, err := l.CreateAct(ctx, ledger.ActCreateOptions{
		Type:        "broadcast",
		Title:       "Spring dispatch",
		Cycle:       domain.CycleSeasonal,
		LineageTags: []string{"capsule:42"},
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create act: %v", err)
	}
	if a.Status != domain.ActDraft {
		t.Fatalf("expected draft, got %s", a.Status)
	}
	got, seal, err := l.GetAct(ctx, a.ID)
	if err != nil {
		t.Fatalf("get act: %v", err)
	}
	if seal != nil {
		t.Fatal("unsealed act must have no seal")
	}
	if len(got.LineageTags) != 1 || got.LineageTags[0] != "capsule:42" {
		t.Fatalf("lineage tags lost: %v", got.LineageTags)
	}
}

func TestCreateActValidation(t *testing.T) {
	l, ctx := newLedger(t)
	_, err := l.CreateAct(ctx, ledger.ActCreateOptions{Title: "no type"})
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = l.CreateAct(ctx, ledger.ActCreateOptions{Type: "x", Title: "t", Cycle: "hourly"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected cycle validation error, got %v", err)
	}
}

func TestSealActOnce(t *testing.T) {
	l, ctx := newLedger(t)
	a, err := l.CreateAct(ctx, ledger.ActCreateOptions{Type: "closure", Title: "Close it", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create act: %v", err)
	}
	seal, err := l.SealAct(ctx, a.ID, "authority-1", "tester")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(seal.SealCode, "SEAL-") {
		t.Fatalf("unexpected seal code %q", seal.SealCode)
	}
	if seal.StampedBy == nil || *seal.StampedBy != "authority-1" {
		t.Fatalf("expected stamped_by authority-1, got %v", seal.StampedBy)
	}

	got, attached, err := l.GetAct(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ActSealed {
		t.Fatalf("expected sealed, got %s", got.Status)
	}
	if attached == nil || attached.SealCode != seal.SealCode {
		t.Fatalf("seal not attached: %v", attached)
	}

	if _, err := l.SealAct(ctx, a.ID, "authority-2", "tester"); !errors.Is(err, domain.ErrAlreadySealed) {
		t.Fatalf("second seal: expected ErrAlreadySealed, got %v", err)
	}
}

func TestSealCodesAreUniquePerAct(t *testing.T) {
	l, ctx := newLedger(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		a, err := l.CreateAct(ctx, ledger.ActCreateOptions{Type: "broadcast", Title: "n", ActorID: "tester"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		s, err := l.SealAct(ctx, a.ID, "", "tester")
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if seen[s.SealCode] {
			t.Fatalf("duplicate seal code %s", s.SealCode)
		}
		seen[s.SealCode] = true
	}
}

func TestIndexByType(t *testing.T) {
	l, ctx := newLedger(t)
	for _, actType := range []string{"broadcast", "broadcast", "closure"} {
		if _, err := l.CreateAct(ctx, ledger.ActCreateOptions{Type: actType, Title: "n", ActorID: "tester"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	counts, err := l.IndexByType(ctx, "", "")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if counts["broadcast"] != 2 || counts["closure"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	none, err := l.IndexByType(ctx, "2030-01-01T00:00:00Z", "")
	if err != nil {
		t.Fatalf("windowed index: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty window, got %v", none)
	}
}

func TestConcurrentSealSingleWinner(t *testing.T) {
	l, ctx := newLedger(t)
	a, err := l.CreateAct(ctx, ledger.ActCreateOptions{Type: "closure", Title: "Race me", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create act: %v", err)
	}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.SealAct(ctx, a.ID, "authority-1", "tester")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrAlreadySealed):
		default:
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	got, seal, err := l.GetAct(ctx, a.ID)
	if err != nil {
		t.Fatalf("get act: %v", err)
	}
	if got.Status != domain.ActSealed {
		t.Fatalf("expected sealed, got %s", got.Status)
	}
	if seal == nil {
		t.Fatal("expected exactly one seal row")
	}
}

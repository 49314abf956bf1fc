package bandit

import (
	"context"
	"testing"
)

func TestReplayMatchesOriginalRun(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, audit, err := engine.Allocate(context.Background(), twoVariantProvider(), Request{
		ExperimentID: "exp-1",
		Target:       TargetCTR,
		Seed:         987654321,
		HasSeed:      true,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	replayed, err := Replay(audit)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != len(audit.Variants) {
		t.Fatalf("replayed %d variants, audit has %d", len(replayed), len(audit.Variants))
	}
	for i, v := range audit.Variants {
		if replayed[i] != v.AllocationPct {
			t.Errorf("variant %s: replayed %v, audit recorded %v", v.VariantID, replayed[i], v.AllocationPct)
		}
	}
}

func TestReplayRejectsBadAudit(t *testing.T) {
	if _, err := Replay(nil); err == nil {
		t.Error("nil audit should error")
	}
	if _, err := Replay(&Audit{Samples: 100}); err == nil {
		t.Error("audit without variants should error")
	}
	if _, err := Replay(&Audit{Variants: make([]AuditVariant, 2)}); err == nil {
		t.Error("audit without samples should error")
	}
}

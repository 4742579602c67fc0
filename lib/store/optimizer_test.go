package store

import (
	"testing"
)

func opsOf(deltas []Delta) []DeltaOp {
	ops := make([]DeltaOp, len(deltas))
	for i, d := range deltas {
		ops[i] = d.Op
	}
	return ops
}

func TestOptimizerLastSetWins(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewSet([]byte("a"), []byte("v1")),
		NewSet([]byte("b"), []byte("w1")),
		NewSet([]byte("a"), []byte("v2")),
	})

	if len(out) != 2 {
		t.Fatalf("expected 2 surviving deltas, got %d", len(out))
	}
	if string(out[0].Key) != "b" || string(out[0].Value) != "w1" {
		t.Errorf("unexpected first delta: %q=%q", out[0].Key, out[0].Value)
	}
	if string(out[1].Key) != "a" || string(out[1].Value) != "v2" {
		t.Errorf("expected last set of a to survive, got %q=%q", out[1].Key, out[1].Value)
	}
}

func TestOptimizerSetRemoveAnnihilates(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewSet([]byte("a"), []byte("v1")),
		NewRemove([]byte("a")),
	})

	if len(out) != 0 {
		t.Fatalf("expected set/remove pair to cancel, got %d deltas", len(out))
	}
}

func TestOptimizerSetAfterAnnihilationSurvives(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewSet([]byte("a"), []byte("v1")),
		NewRemove([]byte("a")),
		NewSet([]byte("a"), []byte("v2")),
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 surviving delta, got %d", len(out))
	}
	if out[0].Op != OpSet || string(out[0].Value) != "v2" {
		t.Errorf("expected final set to survive, got op %d value %q", out[0].Op, out[0].Value)
	}
}

func TestOptimizerRepeatedRemoveCollapses(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewRemove([]byte("a")),
		NewRemove([]byte("a")),
	})

	if len(out) != 1 || out[0].Op != OpRemove {
		t.Fatalf("expected one remove, got %v", opsOf(out))
	}
}

func TestOptimizerRemoveWithoutPriorSetSurvives(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewRemove([]byte("a")),
		NewSet([]byte("a"), []byte("v1")),
	})

	// The remove targets the previously committed state, the set the new
	// one; they do not cancel in this order.
	if len(out) != 1 {
		t.Fatalf("expected remove to be replaced by set, got %v", opsOf(out))
	}
	if out[0].Op != OpSet {
		t.Errorf("expected surviving set, got op %d", out[0].Op)
	}
}

func TestOptimizerDropsPassUntouched(t *testing.T) {
	keep := 2
	out := optimizeDeltas([]Delta{
		NewSet([]byte("a"), []byte("v1")),
		NewDrop([]byte("a"), nil, &keep),
		NewSet([]byte("a"), []byte("v2")),
	})

	if len(out) != 2 {
		t.Fatalf("expected drop plus final set, got %v", opsOf(out))
	}
	if out[0].Op != OpDrop {
		t.Errorf("expected drop first, got op %d", out[0].Op)
	}
	if out[1].Op != OpSet || string(out[1].Value) != "v2" {
		t.Errorf("expected final set second, got op %d", out[1].Op)
	}
}

func TestOptimizerPreservesOrderAcrossKeys(t *testing.T) {
	out := optimizeDeltas([]Delta{
		NewSet([]byte("a"), []byte("1")),
		NewSet([]byte("b"), []byte("2")),
		NewRemove([]byte("c")),
	})

	if len(out) != 3 {
		t.Fatalf("expected all deltas to survive, got %d", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(out[i].Key) != want {
			t.Errorf("delta %d: expected key %q, got %q", i, want, out[i].Key)
		}
	}
}

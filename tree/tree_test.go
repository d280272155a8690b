package tree_test

import (
	"testing"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/tree"
)

func ptr(v int64) *int64 { return &v }

func TestBuildOrdersSiblingsByPosition(t *testing.T) {
	rows := []models.Channel{
		{ID: 1, Name: "R", ParentID: nil, Position: 0},
		{ID: 2, Name: "A", ParentID: ptr(1), Position: 1},
		{ID: 3, Name: "B", ParentID: ptr(1), Position: 0},
	}

	roots := tree.Build(rows)

	if len(roots) != 1 || roots[0].ID != 1 {
		t.Fatalf("expected a single root R, got %+v", roots)
	}
	if len(roots[0].Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(roots[0].Children))
	}
	if roots[0].Children[0].ID != 3 || roots[0].Children[1].ID != 2 {
		t.Errorf("expected children order [B, A], got [%d, %d]", roots[0].Children[0].ID, roots[0].Children[1].ID)
	}
}

func TestBuildToleratesOrphans(t *testing.T) {
	rows := []models.Channel{
		{ID: 10, Name: "X", ParentID: ptr(999), Position: 0},
		{ID: 11, Name: "Y", ParentID: nil, Position: 1},
	}

	roots := tree.Build(rows)

	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].ID != 10 || roots[1].ID != 11 {
		t.Errorf("expected roots [X, Y], got [%d, %d]", roots[0].ID, roots[1].ID)
	}
}

func TestBuildIsDeterministicAcrossReruns(t *testing.T) {
	rows := []models.Channel{
		{ID: 1, Name: "R", Position: 0},
		{ID: 2, Name: "A", ParentID: ptr(1), Position: 5},
		{ID: 3, Name: "B", ParentID: ptr(1), Position: 5},
	}

	first := tree.Build(rows)
	second := tree.Build(rows)

	if len(first) != len(second) || len(first[0].Children) != len(second[0].Children) {
		t.Fatal("expected identical shape across reruns")
	}
	for i := range first[0].Children {
		if first[0].Children[i].ID != second[0].Children[i].ID {
			t.Errorf("rerun produced different order at index %d", i)
		}
	}
}

func TestFlattenBuildRoundTrip(t *testing.T) {
	rows := []models.Channel{
		{ID: 1, Name: "R", Position: 0},
		{ID: 2, Name: "A", ParentID: ptr(1), Position: 0},
		{ID: 3, Name: "B", ParentID: ptr(1), Position: 1},
	}

	roots := tree.Build(rows)
	flattened := tree.Flatten(roots)
	rebuilt := tree.Build(flattened)

	if len(rebuilt) != len(roots) {
		t.Fatalf("round trip changed root count: %d vs %d", len(rebuilt), len(roots))
	}
	if len(rebuilt[0].Children) != len(roots[0].Children) {
		t.Fatalf("round trip changed child count")
	}
	for i := range roots[0].Children {
		if rebuilt[0].Children[i].ID != roots[0].Children[i].ID {
			t.Errorf("round trip changed order at %d", i)
		}
	}
}

func TestCyclicParentsBuildTerminates(t *testing.T) {
	rows := []models.Channel{
		{ID: 1, Name: "A", ParentID: ptr(2), Position: 0},
		{ID: 2, Name: "B", ParentID: ptr(1), Position: 0},
	}

	// Both point at each other; the builder must not infinite-loop —
	// it only does one pass over the rows. Neither row has a nil or
	// dangling parent, so no root is produced and each node lands in
	// the other's Children (the result itself is cyclic; the store's
	// cycle check is what keeps such rows out).
	roots := tree.Build(rows)
	_ = roots // build terminates; that is the property under test.
}

// SPDX-License-Identifier: MIT

package octree

import (
	"math/rand/v2"
	"testing"
)

func randomKeys(t *testing.T, n int, seed uint64) []Key {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0xabcdef))
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = FromAnchor(Anchor{
			X: rng.Uint32N(LatticeSize),
			Y: rng.Uint32N(LatticeSize),
			Z: rng.Uint32N(LatticeSize),
		}, DeepestLevel)
	}
	return keys
}

func TestLinearizeSortedUniqueNoOverlaps(t *testing.T) {
	t.Parallel()
	keys := randomKeys(t, 1000, 0)
	out := Linearize(keys)

	for i := 1; i < len(out); i++ {
		if !out[i-1].Less(out[i]) {
			t.Fatalf("linearized tree not strictly sorted at %d: %v >= %v", i, out[i-1], out[i])
		}
	}

	remaining := append([]Key(nil), out...)
	for _, k := range out {
		anc := k.Ancestors()
		for i, r := range remaining {
			if r == k {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
		for _, a := range anc {
			for _, r := range remaining {
				if r == a {
					t.Fatalf("linearized tree contains ancestor %v of retained key %v", a, k)
				}
			}
		}
	}
}

func TestLinearizeSingleKey(t *testing.T) {
	t.Parallel()
	k := FromAnchor(Anchor{X: 1, Y: 2, Z: 3}, DeepestLevel)
	out := Linearize([]Key{k})
	if len(out) != 1 || out[0] != k {
		t.Fatalf("Linearize([k]) = %v, want [%v]", out, k)
	}
}

func TestCompleteRegionBoundsAndOverlaps(t *testing.T) {
	t.Parallel()
	a := FromAnchor(Anchor{X: 0, Y: 0, Z: 0}, DeepestLevel)
	b := FromAnchor(Anchor{X: LatticeSize - 1, Y: LatticeSize - 1, Z: LatticeSize - 1}, DeepestLevel)

	region := CompleteRegion(a, b)
	if len(region) == 0 {
		t.Fatalf("CompleteRegion(a, b) returned no keys")
	}

	fca := FinestCommonAncestor(a, b)
	for _, node := range region {
		if node == a || node == b {
			t.Fatalf("region contains a bound: %v", node)
		}
		if !a.Less(node) || !node.Less(b) {
			t.Fatalf("region key %v out of (a, b) bounds", node)
		}
		if !fca.IsAncestor(node) {
			t.Fatalf("FCA %v is not an ancestor of region node %v", fca, node)
		}
	}

	for i := range region {
		anc := ancestorSet(region[i])
		for j, other := range region {
			if i == j {
				continue
			}
			if anc[other] {
				t.Fatalf("region contains ancestor/descendant overlap: %v is an ancestor of %v", other, region[i])
			}
		}
	}

	for i := 1; i < len(region); i++ {
		if !region[i-1].Less(region[i]) {
			t.Fatalf("region not sorted at %d", i)
		}
	}
}

func TestCompleteIncludesBoundsNoOverlaps(t *testing.T) {
	t.Parallel()
	keys := randomKeys(t, 50, 7)
	complete := Complete(keys)

	min, max := minMax(keys)
	foundMin, foundMax := false, false
	for _, k := range complete {
		if k == min {
			foundMin = true
		}
		if k == max {
			foundMax = true
		}
	}
	if !foundMin || !foundMax {
		t.Fatalf("Complete() does not include both bounds")
	}

	for i := 1; i < len(complete); i++ {
		if !complete[i-1].Less(complete[i]) {
			t.Fatalf("complete region not sorted at %d", i)
		}
	}

	for i := range complete {
		anc := ancestorSet(complete[i])
		for j, other := range complete {
			if i != j && anc[other] {
				t.Fatalf("complete region contains ancestor/descendant overlap: %v is an ancestor of %v", other, complete[i])
			}
		}
	}
}

func TestFindSeedsCoarsestLevel(t *testing.T) {
	t.Parallel()
	keys := randomKeys(t, 200, 42)
	seeds := FindSeeds(keys)
	if len(seeds) == 0 {
		t.Fatalf("FindSeeds returned no seeds")
	}
	level := seeds[0].Level()
	for _, s := range seeds[1:] {
		if s.Level() != level {
			t.Fatalf("seeds have mixed levels: %d and %d", level, s.Level())
		}
	}
	for i := 1; i < len(seeds); i++ {
		if !seeds[i-1].Less(seeds[i]) {
			t.Fatalf("seeds not sorted at %d", i)
		}
	}
}

func TestBalanceCoversOriginalKeys(t *testing.T) {
	t.Parallel()

	// a coarse leaf next to a much finer one forces balancing to insert
	// intermediate levels; every original leaf's cube must still be
	// represented (by itself, an ancestor, or a descendant) afterward.
	coarse := FromAnchor(Anchor{X: 0, Y: 0, Z: 0}, 2)
	fine := FromAnchor(Anchor{X: 1 << (DeepestLevel - 2), Y: 0, Z: 0}, 10)
	input := []Key{coarse, fine}

	balanced := Balance(input)
	if len(balanced) < len(input) {
		t.Fatalf("Balance shrank the key set: %d -> %d", len(input), len(balanced))
	}

	for _, k := range input {
		covered := false
		for _, o := range balanced {
			if o == k || o.IsAncestor(k) || k.IsAncestor(o) {
				covered = true
				break
			}
		}
		if !covered {
			t.Fatalf("original key %v not covered by balanced output", k)
		}
	}
}

func TestBalanceOutputIsLinearized(t *testing.T) {
	t.Parallel()
	keys := randomKeys(t, 100, 99)
	balanced := Balance(keys)
	relinearized := Linearize(balanced)
	if len(balanced) != len(relinearized) {
		t.Fatalf("Balance output was not already linearized: %d vs %d", len(balanced), len(relinearized))
	}
}

// SPDX-License-Identifier: MIT

package blockindex

import "testing"

func TestDigitsFormat(t *testing.T) {
	t.Parallel()
	if got := Digits(nil); got != "/" {
		t.Fatalf("Digits(nil) = %q, want %q", got, "/")
	}
	if got := Digits([]uint8{3, 0, 7}); got != "/3/0/7" {
		t.Fatalf("Digits = %q, want %q", got, "/3/0/7")
	}
}

func TestFindOwnerLongestPrefix(t *testing.T) {
	t.Parallel()
	idx := New()
	idx.InsertBlock(Digits([]uint8{3}), 100)
	idx.InsertBlock(Digits([]uint8{3, 5}), 200)

	// a leaf under block {3,5,2} should resolve to the more specific
	// block {3,5}, not the coarser {3}.
	owner, ok := idx.FindOwner(Digits([]uint8{3, 5, 2}))
	if !ok || owner != 200 {
		t.Fatalf("FindOwner({3,5,2}) = (%d, %v), want (200, true)", owner, ok)
	}

	// a leaf under {3,6,...} only matches the coarser block {3}.
	owner, ok = idx.FindOwner(Digits([]uint8{3, 6, 1}))
	if !ok || owner != 100 {
		t.Fatalf("FindOwner({3,6,1}) = (%d, %v), want (100, true)", owner, ok)
	}

	// a leaf entirely outside any known block.
	if _, ok := idx.FindOwner(Digits([]uint8{5})); ok {
		t.Fatalf("FindOwner({5}) = ok, want not found")
	}
}

func TestCountsIncrementAndReset(t *testing.T) {
	t.Parallel()
	idx := New()
	path := Digits([]uint8{1, 2})
	idx.InsertBlock(path, 42)

	if got := idx.IncrementCount(path, 5); got != 5 {
		t.Fatalf("IncrementCount = %d, want 5", got)
	}
	if got := idx.IncrementCount(path, 3); got != 8 {
		t.Fatalf("IncrementCount = %d, want 8", got)
	}
	if got := idx.Count(path); got != 8 {
		t.Fatalf("Count = %d, want 8", got)
	}

	idx.Reset()
	if got := idx.Count(path); got != 0 {
		t.Fatalf("Count after Reset = %d, want 0", got)
	}
	if _, ok := idx.FindOwner(path); ok {
		t.Fatalf("FindOwner after Reset = ok, want not found")
	}
}

func TestBlocksListsEveryInsertedBlock(t *testing.T) {
	t.Parallel()
	idx := New()
	idx.InsertBlock(Digits([]uint8{0}), 1)
	idx.InsertBlock(Digits([]uint8{1}), 2)
	idx.IncrementCount(Digits([]uint8{1}), 10)

	blocks := idx.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("len(Blocks()) = %d, want 2", len(blocks))
	}
	total := 0
	for _, b := range blocks {
		total += b.Count
	}
	if total != 10 {
		t.Fatalf("total count = %d, want 10", total)
	}
}

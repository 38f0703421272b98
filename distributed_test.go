// SPDX-License-Identifier: MIT

package octree

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
)

// scatterPoints builds n random points inside a unit domain and deals
// them round-robin across size ranks, mimicking each rank starting out
// with an arbitrary, unsorted local share.
func scatterPoints(t *testing.T, n, size int, seed uint64) [][]Point {
	t.Helper()
	d := Domain{Origin: [3]float64{0, 0, 0}, Diameter: [3]float64{1, 1, 1}}
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))

	out := make([][]Point, size)
	for i := 0; i < n; i++ {
		p, err := NewPoint(rng.Float64(), rng.Float64(), rng.Float64(), uint64(i), d)
		if err != nil {
			t.Fatalf("NewPoint: %v", err)
		}
		r := i % size
		out[r] = append(out[r], p)
	}
	return out
}

// runDistributed drives one Build call per rank concurrently, since
// Communicator's Send/Recv/AllReduce block until every rank has done its
// matching call.
func runDistributed(t *testing.T, shares [][]Point, ncrit, k int, balanced bool) ([]*DistributedTree, []error) {
	t.Helper()
	size := len(shares)
	comms := NewLocalCommunicators(size)

	trees := make([]*DistributedTree, size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	wg.Add(size)
	for r := 0; r < size; r++ {
		r := r
		go func() {
			defer wg.Done()
			trees[r], errs[r] = Build(context.Background(), shares[r], comms[r], SampleSorter{}, ncrit, k, balanced)
		}()
	}
	wg.Wait()
	return trees, errs
}

func TestBuildConservesAllPoints(t *testing.T) {
	t.Parallel()
	const total = 2000
	shares := scatterPoints(t, total, 4, 1)

	trees, errs := runDistributed(t, shares, 64, 8, false)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Build: %v", r, err)
		}
	}

	seen := make(map[uint64]bool, total)
	for _, tr := range trees {
		for _, p := range tr.Points {
			if seen[p.GlobalIdx] {
				t.Fatalf("global index %d owned by more than one rank", p.GlobalIdx)
			}
			seen[p.GlobalIdx] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("got %d distinct points back, want %d", len(seen), total)
	}
}

func TestBuildEveryPointCoveredByALocalBlock(t *testing.T) {
	t.Parallel()
	shares := scatterPoints(t, 800, 3, 2)

	trees, errs := runDistributed(t, shares, 32, 8, false)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Build: %v", r, err)
		}
	}

	for r, tr := range trees {
		if len(tr.Blocks) == 0 {
			t.Fatalf("rank %d: empty block set", r)
		}
		for i := 1; i < len(tr.Blocks); i++ {
			if !tr.Blocks[i-1].Less(tr.Blocks[i]) {
				t.Fatalf("rank %d: blocks not sorted at %d", r, i)
			}
		}
		for _, p := range tr.Points {
			covered := false
			for _, b := range tr.Blocks {
				if b == p.Key || b.IsAncestor(p.Key) {
					covered = true
					break
				}
			}
			if !covered {
				t.Fatalf("rank %d: point with key %v not covered by any local block", r, p.Key)
			}
		}
	}
}

func TestBuildRespectsNCRIT(t *testing.T) {
	t.Parallel()
	const ncrit = 16
	shares := scatterPoints(t, 1500, 3, 3)

	trees, errs := runDistributed(t, shares, ncrit, 8, false)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Build: %v", r, err)
		}
	}

	for r, tr := range trees {
		counts := make(map[Key]int)
		for _, p := range tr.Points {
			owner := Key{}
			found := false
			for _, b := range tr.Blocks {
				if (b == p.Key || b.IsAncestor(p.Key)) && (!found || owner.Less(b)) {
					owner, found = b, true
				}
			}
			if !found {
				t.Fatalf("rank %d: point %v has no owning block", r, p.Key)
			}
			counts[owner]++
		}
		for block, n := range counts {
			if n > ncrit && block.Level() < DeepestLevel {
				t.Fatalf("rank %d: block %v holds %d points, exceeding ncrit %d", r, block, n, ncrit)
			}
		}
	}
}

func TestBuildBalancedBlocksAreLinearized(t *testing.T) {
	t.Parallel()
	shares := scatterPoints(t, 1200, 4, 4)

	trees, errs := runDistributed(t, shares, 32, 8, true)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Build: %v", r, err)
		}
	}

	for r, tr := range trees {
		relinearized := Linearize(tr.Blocks)
		if len(relinearized) != len(tr.Blocks) {
			t.Fatalf("rank %d: balanced block set was not already linearized: %d vs %d", r, len(tr.Blocks), len(relinearized))
		}
	}
}

// TestBuildBalancedBlocksAreTwoToOneBalanced checks the actual 2:1
// balance property across every rank's combined block set: for any two
// face/edge/corner-adjacent blocks, their levels differ by at most 1.
// Adjacency is discovered per block via Neighbors, and each neighbor
// position is resolved to its owning block by the same longest-prefix
// lookup Build itself uses, since a neighbor key need not itself be a
// block in the set.
func TestBuildBalancedBlocksAreTwoToOneBalanced(t *testing.T) {
	t.Parallel()
	shares := scatterPoints(t, 1200, 4, 6)

	trees, errs := runDistributed(t, shares, 32, 8, true)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Build: %v", r, err)
		}
	}

	var merged []Key
	for _, tr := range trees {
		merged = append(merged, tr.Blocks...)
	}

	var candidates []Key
	for _, b := range merged {
		candidates = append(candidates, b.Neighbors()...)
	}
	owners := assignBlocksToPoints(candidates, merged)

	for _, b := range merged {
		for _, n := range b.Neighbors() {
			owner, ok := owners[n]
			if !ok {
				continue
			}
			diff := int(b.Level()) - int(owner.Level())
			if diff < 0 {
				diff = -diff
			}
			if diff > 1 {
				t.Fatalf("block %v (level %d) neighbors block %v (level %d): level difference %d exceeds 2:1 balance", b, b.Level(), owner, owner.Level(), diff)
			}
		}
	}
}

func TestBuildSingleRankReturnsAllPoints(t *testing.T) {
	t.Parallel()
	shares := scatterPoints(t, 500, 1, 5)

	trees, errs := runDistributed(t, shares, 50, 8, false)
	if errs[0] != nil {
		t.Fatalf("Build: %v", errs[0])
	}
	if len(trees[0].Points) != 500 {
		t.Fatalf("got %d points, want 500", len(trees[0].Points))
	}
}

func TestBuildEmptyRankReturnsErrEmptyRank(t *testing.T) {
	t.Parallel()
	comms := NewLocalCommunicators(1)
	_, err := Build(context.Background(), nil, comms[0], SampleSorter{}, 50, 8, false)
	if !errors.Is(err, ErrEmptyRank) {
		t.Fatalf("Build with no points: err = %v, want wrapping ErrEmptyRank", err)
	}
}

// A rank that starts with zero points returns ErrEmptyRank before
// making any Communicator call, by design: Build's very first check
// runs ahead of the distributed sort's collective Send/Recv rounds, so
// it never leaves a peer rank blocked waiting on a rank that bailed
// out early. Exercising that alongside healthy peers would require
// those peers to tolerate a missing collective participant, which
// Sorter's contract does not promise — so this case is only
// exercised at size 1, in TestBuildEmptyRankReturnsErrEmptyRank.

// SPDX-License-Identifier: MIT

package octree

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mortontree/octree/internal/blockindex"
)

// ErrEmptyRank is wrapped with the offending rank's ordinal and returned
// by Build when a rank holds no points after the initial distributed
// sort (either because it was handed none to start with, or because
// sample-sort redistribution left it with an empty share).
var ErrEmptyRank = errors.New("octree: rank has no points")

// DistributedTree is one rank's share of a distributed octree built by
// Build: the points this rank owns once construction settles (Key left
// exactly as NewPoint encoded it — Build never rewrites a point's
// identity), and this rank's local, sorted, overlap-free block/leaf set.
//
// A point's owning node is recoverable from Blocks via blockindex-style
// longest-prefix lookup on its Key's Digits; Build does not carry that
// mapping as a side table since Blocks alone is sufficient to derive it
// and keeping Points untouched avoids a point ever aliasing a different
// node's identity mid-pipeline.
type DistributedTree struct {
	Points []Point
	Blocks []Key
}

// Build turns this rank's local, unsorted share of a point cloud into a
// distributed linear octree through an eight-phase pipeline: distributed
// sort, local linearize+complete, seed-finding, cross-rank block-tree
// completion, leaf ownership transfer across rank boundaries,
// NCRIT-driven block refinement, and (if balanced) 2:1 balancing
// followed by a second distributed sort.
//
// k is threaded opaquely into every sorter.Sort call; Build never
// derives it from ncrit, point count, or rank count.
func Build(ctx context.Context, points []Point, comm Communicator, sorter Sorter, ncrit, k int, balanced bool) (*DistributedTree, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: rank %d", ErrEmptyRank, comm.Rank())
	}

	// Phase 1-2: distributed sample sort.
	sorted, err := sorter.Sort(ctx, points, comm, k)
	if err != nil {
		return nil, fmt.Errorf("octree: distributed sort: %w", err)
	}
	if len(sorted) == 0 {
		return nil, fmt.Errorf("%w: rank %d", ErrEmptyRank, comm.Rank())
	}

	// Phase 3: local linearize, then complete the local span.
	localTree := &Tree{Keys: keysOf(sorted)}
	localTree.Linearize()
	localTree.Complete()

	// Phase 4: seeds of the locally completed region.
	seeds := localTree.Seeds()

	// Phase 5: cross-rank block-tree completion.
	blockTree, err := completeBlockTree(ctx, comm, seeds)
	if err != nil {
		return nil, fmt.Errorf("octree: completing block tree: %w", err)
	}

	// Phase 6: transfer leaf ownership across rank boundaries so every
	// point this rank ends up holding falls within its own block-tree
	// span.
	owned, err := transferLeavesToCoarseBlockTree(ctx, comm, sorted, seeds, blockTree)
	if err != nil {
		return nil, fmt.Errorf("octree: transferring leaf ownership: %w", err)
	}

	leaves := Linearize(keysOf(owned))

	// Phase 7: refine blocks so no block holds more than ncrit points.
	pointsToBlocks := splitBlocks(leaves, blockTree, ncrit)

	if !balanced {
		blocks := distinctValues(pointsToBlocks)
		return &DistributedTree{Points: owned, Blocks: Linearize(blocks)}, nil
	}

	// Phase 8: balance the refined block set and redistribute points to
	// match, via a second distributed sort.
	return balanceAndRedistribute(ctx, comm, sorter, owned, pointsToBlocks, k)
}

func keysOf(points []Point) []Key {
	out := make([]Key, len(points))
	for i, p := range points {
		out[i] = p.Key
	}
	return out
}

func distinctValues(m map[Key]Key) []Key {
	seen := make(map[Key]bool, len(m))
	out := make([]Key, 0, len(m))
	for _, v := range m {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// completeBlockTree turns this rank's local seeds into a coarse block
// tree that, stitched across every rank, tiles the whole domain with no
// gaps or overlaps: the first rank is pinned to the domain's lower
// corner, the last rank to its upper corner, and every adjacent pair of
// ranks exchanges its boundary seed so each rank's span abuts its
// neighbor's exactly.
func completeBlockTree(ctx context.Context, comm Communicator, seeds []Key) ([]Key, error) {
	rank, size := comm.Rank(), comm.Size()
	seeds = append([]Key(nil), seeds...)

	if rank == 0 {
		dfdRoot := Root.FinestFirstChild()
		min, _ := minMax(seeds)
		na := FinestCommonAncestor(dfdRoot, min)
		firstChild := na.Children()[0]
		seeds = append(seeds, firstChild)
	}
	if rank == size-1 {
		dldRoot := Root.FinestLastChild()
		_, max := minMax(seeds)
		na := FinestCommonAncestor(dldRoot, max)
		lastChild := na.Children()[7]
		seeds = append(seeds, lastChild)
	}
	sortKeys(seeds)

	min, _ := minMax(seeds)
	if err := SendKeyToPrevious(ctx, comm, min); err != nil {
		return nil, err
	}
	boundary, ok, err := RecvKeyFromNext(ctx, comm)
	if err != nil {
		return nil, err
	}
	if ok {
		seeds = append(seeds, boundary)
		sortKeys(seeds)
	}

	var blockTree []Key
	for i := 0; i < len(seeds)-1; i++ {
		blockTree = append(blockTree, seeds[i])
		blockTree = append(blockTree, CompleteRegion(seeds[i], seeds[i+1])...)
	}
	if rank == size-1 {
		blockTree = append(blockTree, seeds[len(seeds)-1])
	}
	sortKeys(blockTree)
	return blockTree, nil
}

// transferLeavesToCoarseBlockTree sends every locally sorted point whose
// key falls below this rank's minimum seed to the previous rank, and
// receives the symmetric transfer from the next rank, so that every
// point this rank ends up holding is spanned by its own block tree.
func transferLeavesToCoarseBlockTree(ctx context.Context, comm Communicator, sorted []Point, seeds, blockTree []Key) ([]Point, error) {
	rank := comm.Rank()

	var minSeed Key
	if rank == 0 {
		minSeed = sorted[0].Key
	} else if len(blockTree) > 0 {
		minSeed, _ = minMax(blockTree)
	} else {
		minSeed, _ = minMax(seeds)
	}

	split := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Key.Less(minSeed) })
	toPrevious := sorted[:split]
	remaining := sorted[split:]

	if err := SendPointsToPrevious(ctx, comm, toPrevious); err != nil {
		return nil, err
	}
	fromNext, _, err := RecvPointsFromNext(ctx, comm)
	if err != nil {
		return nil, err
	}

	merged := append(append([]Point(nil), remaining...), fromNext...)
	sortPoints(merged)
	return merged, nil
}

// splitBlocks repeatedly assigns leaves to blocks and subdivides any
// block holding more than ncrit points into its children, until every
// block that actually owns a point respects ncrit (or cannot be split
// further, for a deepest-level block holding duplicate coincident
// points). Blocks that end up owning zero points are dropped: the
// refined tree only ever covers occupied space.
//
// Each round's per-block point count is tracked by a fresh
// blockindex.Index rather than a bare map: InsertBlock seeds one entry
// per candidate block, FindOwnerPath resolves each leaf's owner in the
// index's path trie, and IncrementCount/Count update and read the
// radix-backed count table under the block path FindOwnerPath returned.
func splitBlocks(leaves []Key, blockTree []Key, ncrit int) map[Key]Key {
	blocks := append([]Key(nil), blockTree...)

	for {
		idx := blockindex.New()
		for _, b := range blocks {
			idx.InsertBlock(blockindex.Digits(b.Digits()), b.Packed())
		}

		pointsToBlocks := make(map[Key]Key, len(leaves))
		for _, leaf := range leaves {
			path, packed, ok := idx.FindOwnerPath(blockindex.Digits(leaf.Digits()))
			if !ok {
				continue
			}
			pointsToBlocks[leaf] = FromMorton(packed)
			idx.IncrementCount(path, 1)
		}

		var refined []Key
		withinNcrit, occupied := 0, 0
		for _, b := range idx.Blocks() {
			if b.Count == 0 {
				continue
			}
			occupied++
			block := FromMorton(b.Packed)
			if b.Count > ncrit && block.Level() < DeepestLevel {
				children := block.Children()
				refined = append(refined, children[:]...)
			} else {
				refined = append(refined, block)
				withinNcrit++
			}
		}

		if withinNcrit == occupied {
			return pointsToBlocks
		}
		blocks = refined
	}
}

// assignBlocksToPoints maps every leaf key to the block that owns it, by
// longest-prefix match over each key's octant-digit path.
func assignBlocksToPoints(leaves []Key, blocks []Key) map[Key]Key {
	idx := blockindex.New()
	for _, b := range blocks {
		idx.InsertBlock(blockindex.Digits(b.Digits()), b.Packed())
	}

	out := make(map[Key]Key, len(leaves))
	for _, leaf := range leaves {
		if packed, ok := idx.FindOwner(blockindex.Digits(leaf.Digits())); ok {
			out[leaf] = FromMorton(packed)
		}
	}
	return out
}

// balanceAndRedistribute implements Phase 8: the refined block set is
// 2:1 balanced (locally — true cross-rank balance at a block's own
// boundary would need a further halo exchange, which this pipeline does
// not perform), every point is reassigned to its balanced owner, and a
// second distributed sort redistributes points across ranks to match
// the new block boundaries.
//
// The second sort keys on each point's own permanent deepest-level Key
// rather than its (just-computed) block key: a block's subtree is
// always a contiguous range of deepest-level keys in Morton order
// (ancestors sort strictly before every descendant, and Children are
// contiguous and ascending), so sorting by the unmutated Key clusters
// points identically to sorting by owning block. That lets Point's Key
// stay fixed for the lifetime of the value, as documented on the type,
// instead of a point ever being reassigned a different node's identity
// mid-pipeline.
func balanceAndRedistribute(ctx context.Context, comm Communicator, sorter Sorter, owned []Point, pointsToBlocks map[Key]Key, k int) (*DistributedTree, error) {
	blockSet := distinctValues(pointsToBlocks)
	balancedBlocks := Balance(blockSet)

	resorted, err := sorter.Sort(ctx, owned, comm, k)
	if err != nil {
		return nil, fmt.Errorf("octree: second distributed sort: %w", err)
	}

	// owner is built from resorted, not owned: the second sort can move
	// points across rank boundaries, and a point this rank receives from
	// a neighbor must still resolve against this rank's own
	// balancedBlocks, which a map keyed by owned's pre-sort points would
	// never contain.
	owner := assignBlocksToPoints(keysOf(resorted), balancedBlocks)

	seen := make(map[Key]bool)
	var localBlocks []Key
	for _, p := range resorted {
		if b, ok := owner[p.Key]; ok && !seen[b] {
			seen[b] = true
			localBlocks = append(localBlocks, b)
		}
	}
	sortKeys(localBlocks)

	return &DistributedTree{Points: resorted, Blocks: localBlocks}, nil
}

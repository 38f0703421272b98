// SPDX-License-Identifier: MIT

package octree

import "sort"

// Tree is a set of keys held locally by one rank, in the middle of the
// distributed build pipeline: a batch of leaves fresh off the sort, a
// linearized set, a locally complete region, or a locally balanced one,
// depending on which of its methods have been applied.
type Tree struct {
	Keys []Key
}

// Linearize sorts Keys and drops every key that is a strict ancestor of
// its immediate successor, leaving a sorted set with no ancestor/
// descendant pair. The last key is always kept.
func (t *Tree) Linearize() { t.Keys = Linearize(t.Keys) }

// Complete replaces Keys with the smallest node set spanning every node
// between (and including) the tree's own minimum and maximum key, with
// no ancestor/descendant overlaps.
func (t *Tree) Complete() { t.Keys = Complete(t.Keys) }

// Balance replaces Keys with a linearized 2:1-balanced refinement of
// them: no two face/edge/corner-adjacent leaves differ by more than one
// level.
func (t *Tree) Balance() { t.Keys = Balance(t.Keys) }

// Seeds returns the coarsest-level keys of the region spanning Keys'
// minimum and maximum, completed and including both bounds. It does not
// mutate Keys.
func (t *Tree) Seeds() []Key { return FindSeeds(t.Keys) }

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func minMax(keys []Key) (min, max Key) {
	min, max = keys[0], keys[0]
	for _, k := range keys[1:] {
		if k.Less(min) {
			min = k
		}
		if max.Less(k) {
			max = k
		}
	}
	return min, max
}

// Linearize sorts keys and removes every key that is a strict ancestor
// of its immediate successor in sorted order. The result is sorted,
// contains no ancestor/descendant pair, and always retains the maximum
// key. Equal keys are not ancestors of one another, so duplicate keys in
// the input all remain in the result.
func Linearize(keys []Key) []Key {
	if len(keys) == 0 {
		return nil
	}
	sorted := append([]Key(nil), keys...)
	sortKeys(sorted)

	out := make([]Key, 0, len(sorted))
	for i := 0; i < len(sorted)-1; i++ {
		if !sorted[i].IsAncestor(sorted[i+1]) {
			out = append(out, sorted[i])
		}
	}
	return append(out, sorted[len(sorted)-1])
}

// CompleteRegion returns the minimal set of keys, sorted and free of
// ancestor/descendant overlaps, that tiles the open region strictly
// between a and b (a and b themselves are not included). Descends from
// the finest common ancestor of a and b, keeping any candidate strictly
// between the bounds and recursing into any candidate that is an
// ancestor of either bound.
func CompleteRegion(a, b Key) []Key {
	aAncestors := ancestorSet(a)
	bAncestors := ancestorSet(b)

	fca := FinestCommonAncestor(a, b)
	var workList []Key
	if fca.Level() < DeepestLevel {
		children := fca.Children()
		workList = append(workList, children[:]...)
	}

	var minimal []Key
	for len(workList) > 0 {
		n := len(workList) - 1
		cur := workList[n]
		workList = workList[:n]

		switch {
		case a.Less(cur) && cur.Less(b) && !bAncestors[cur]:
			minimal = append(minimal, cur)
		case aAncestors[cur] || bAncestors[cur]:
			if cur.Level() < DeepestLevel {
				children := cur.Children()
				workList = append(workList, children[:]...)
			}
		}
	}

	sortKeys(minimal)
	return minimal
}

func ancestorSet(k Key) map[Key]bool {
	anc := k.Ancestors()
	set := make(map[Key]bool, len(anc))
	for _, a := range anc {
		set[a] = true
	}
	return set
}

// Complete returns the smallest node set spanning (and including) the
// minimum and maximum of keys, with no overlaps. Panics if keys is
// empty.
func Complete(keys []Key) []Key {
	min, max := minMax(keys)
	if min == max {
		return []Key{min}
	}
	region := CompleteRegion(min, max)
	region = append(region, min, max)
	sortKeys(region)
	return region
}

// FindSeeds completes the region spanning leaves' minimum and maximum
// key, then returns every key at the coarsest level present in that
// completed region, ascending. Panics if leaves is empty.
func FindSeeds(leaves []Key) []Key {
	min, max := minMax(leaves)
	complete := CompleteRegion(min, max)
	complete = append(complete, min, max)

	coarsest := complete[0].Level()
	for _, k := range complete[1:] {
		if k.Level() < coarsest {
			coarsest = k.Level()
		}
	}

	var seeds []Key
	for _, k := range complete {
		if k.Level() == coarsest {
			seeds = append(seeds, k)
		}
	}
	sortKeys(seeds)
	return seeds
}

// Balance returns a linearized 2:1-balanced refinement of keys: for every
// pair of face/edge/corner-adjacent leaves, levels differ by at most
// one. Works level by level from the deepest level up to the root,
// inserting missing neighbors' parents (and that parent's siblings)
// whenever a neighbor at the current level is absent. An input key that
// an inserted node lies inside is dropped by the final Linearize in
// favor of the finer nodes.
func Balance(keys []Key) []Key {
	balanced := make(map[Key]bool, len(keys))
	for _, k := range keys {
		balanced[k] = true
	}

	for level := int(DeepestLevel); level >= 0; level-- {
		var workList []Key
		for k := range balanced {
			if int(k.Level()) == level {
				workList = append(workList, k)
			}
		}

		for _, k := range workList {
			for _, neighbor := range k.Neighbors() {
				if balanced[neighbor] {
					continue
				}
				if neighbor.Level() == 0 {
					continue
				}
				parent := neighbor.Parent()
				balanced[parent] = true
				if parent.Level() > 0 {
					for _, sib := range parent.Siblings() {
						balanced[sib] = true
					}
				}
			}
		}
	}

	out := make([]Key, 0, len(balanced))
	for k := range balanced {
		out = append(out, k)
	}
	sortKeys(out)
	return Linearize(out)
}

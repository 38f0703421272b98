// SPDX-License-Identifier: MIT

// Package blockindex tracks the coarse "block tree" a rank owns during
// Phase 7 (split-blocks) of the distributed builder: which block a
// deepest-level key belongs to, and how many points have been assigned
// to each block so far.
//
// Block identity is expressed as a path of per-level octant digits
// (0-7), one per level from the root down to the block, rather than as
// this module's own Key type, so the index has no dependency on the
// tree algorithms that populate it.
package blockindex

import (
	"strconv"
	"strings"

	radix "github.com/armon/go-radix"
	"github.com/dghubble/trie"
)

// Digits renders a block's octant-digit path (one digit per level,
// root-to-block order) as a trie/radix key.
func Digits(digits []uint8) string {
	if len(digits) == 0 {
		return "/"
	}
	parts := make([]string, len(digits))
	for i, d := range digits {
		parts[i] = strconv.Itoa(int(d))
	}
	return "/" + strings.Join(parts, "/")
}

// Index is the block-ownership map for one rank's share of the block
// tree: a PathTrie for "which block owns this deepest-level key" lookups
// (longest matching ancestor path), and a radix tree for the per-block
// point count maintained while Phase 7 refines blocks over NCRIT.
type Index struct {
	blocks *trie.PathTrie
	counts *radix.Tree
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		blocks: trie.NewPathTrie(),
		counts: radix.New(),
	}
}

// InsertBlock records that the block at path owns every leaf whose digit
// path has path as a prefix, identified by its packed Morton key.
func (idx *Index) InsertBlock(path string, packed uint64) {
	idx.blocks.Put(path, packed)
	idx.counts.Insert(path, 0)
}

// Reset discards every block and count, for rebuilding the index from
// scratch after balancing rather than patching the previous map
// incrementally.
func (idx *Index) Reset() {
	idx.blocks = trie.NewPathTrie()
	idx.counts = radix.New()
}

// FindOwner returns the packed Morton key of the block owning the leaf at
// leafPath, by walking leafPath's prefixes from longest to shortest and
// returning the first one present in the index. ok is false if no
// ancestor block has been inserted (leafPath lies outside every known
// block).
func (idx *Index) FindOwner(leafPath string) (packed uint64, ok bool) {
	_, packed, ok = idx.FindOwnerPath(leafPath)
	return packed, ok
}

// FindOwnerPath is like FindOwner but also returns the matched block's
// own path, so a caller can feed it straight to IncrementCount without
// a second prefix walk.
func (idx *Index) FindOwnerPath(leafPath string) (path string, packed uint64, ok bool) {
	segments := strings.Split(strings.Trim(leafPath, "/"), "/")
	for n := len(segments); n >= 0; n-- {
		prefix := "/" + strings.Join(segments[:n], "/")
		if v := idx.blocks.Get(prefix); v != nil {
			return prefix, v.(uint64), true
		}
	}
	return "", 0, false
}

// IncrementCount adds delta to the point count recorded for the block at
// path and returns the new total. The block must already have been
// inserted via InsertBlock.
func (idx *Index) IncrementCount(path string, delta int) int {
	cur, _ := idx.counts.Get(path)
	n, _ := cur.(int)
	n += delta
	idx.counts.Insert(path, n)
	return n
}

// Count returns the point count recorded for the block at path, or 0 if
// the block is not present.
func (idx *Index) Count(path string) int {
	cur, ok := idx.counts.Get(path)
	if !ok {
		return 0
	}
	n, _ := cur.(int)
	return n
}

// Blocks returns every inserted block path and its packed Morton key, in
// the radix tree's sorted-by-path order.
func (idx *Index) Blocks() []Block {
	out := make([]Block, 0, idx.counts.Len())
	idx.counts.Walk(func(path string, _ interface{}) bool {
		if v := idx.blocks.Get(path); v != nil {
			out = append(out, Block{Path: path, Packed: v.(uint64), Count: idx.Count(path)})
		}
		return false
	})
	return out
}

// Block is one entry of Index.Blocks.
type Block struct {
	Path   string
	Packed uint64
	Count  int
}

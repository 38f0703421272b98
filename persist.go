// SPDX-License-Identifier: MIT

package octree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// TreeStore persists and reloads one rank's DistributedTree. The
// production sidecar format (HDF5, alongside a VTK unstructured-grid
// export for visualization) is an external collaborator out of scope
// for this package; TreeStore specifies the contract such a sidecar
// would satisfy, and gobStore is a reference implementation adequate
// for tests and cmd/octreebuild, not a performance or format claim.
type TreeStore interface {
	// Save persists tree, keyed by name, for later retrieval by the same
	// name via Load.
	Save(name string, tree *DistributedTree) error
	// Load retrieves the tree last saved under name.
	Load(name string) (*DistributedTree, error)
}

// gobRecord is the on-disk shape of a DistributedTree: gob encodes Point
// field-by-field, and Key, whose only field is unexported, through its
// MarshalBinary/UnmarshalBinary methods.
type gobRecord struct {
	Points []Point
	Blocks []Key
}

// gobStore is a directory-backed TreeStore: one gob-encoded file per
// saved name. It exists so this package's persistence contract is
// exercised by a real Save/Load round trip in tests, without taking on
// an HDF5 dependency no example in the retrieved pack wires.
type gobStore struct {
	dir string
}

// NewGobStore returns a TreeStore that persists trees as gob files
// under dir. dir must already exist.
func NewGobStore(dir string) TreeStore {
	return &gobStore{dir: dir}
}

func (s *gobStore) path(name string) string {
	return s.dir + "/" + name + ".octree.gob"
}

func (s *gobStore) Save(name string, tree *DistributedTree) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobRecord{Points: tree.Points, Blocks: tree.Blocks}); err != nil {
		return fmt.Errorf("octree: encoding tree %q: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("octree: writing tree %q: %w", name, err)
	}
	return nil
}

func (s *gobStore) Load(name string) (*DistributedTree, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("octree: opening tree %q: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("octree: reading tree %q: %w", name, err)
	}

	var rec gobRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("octree: decoding tree %q: %w", name, err)
	}
	return &DistributedTree{Points: rec.Points, Blocks: rec.Blocks}, nil
}

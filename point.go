// SPDX-License-Identifier: MIT

package octree

// Point is one input sample: a 3D coordinate, its index in the caller's
// original (pre-shuffle) global array, and the Morton key of the
// deepest-level cell it falls into. Ordering (Less) delegates entirely to
// Key — two points with the same key are indistinguishable to every tree
// operation in this package, regardless of their coordinates or
// GlobalIdx. Point defines no equality or hashing of its own: == and use
// as a map key compare every field.
type Point struct {
	X, Y, Z   float64
	GlobalIdx uint64
	Key       Key
}

// NewPoint encodes (x, y, z) against d and returns the resulting Point.
func NewPoint(x, y, z float64, globalIdx uint64, d Domain) (Point, error) {
	a, err := d.Anchor(x, y, z)
	if err != nil {
		return Point{}, err
	}
	return Point{
		X: x, Y: y, Z: z,
		GlobalIdx: globalIdx,
		Key:       FromAnchor(a, DeepestLevel),
	}, nil
}

// Less orders points solely by Key, ascending.
func (p Point) Less(other Point) bool { return p.Key.Less(other.Key) }

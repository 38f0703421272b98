// SPDX-License-Identifier: MIT

package octree

import (
	"context"
	"fmt"
	"math"
)

// domainTolerance pads a computed bounding box outward so that points
// lying exactly on the upper face still encode to a valid anchor.
const domainTolerance = 1e-5

// Domain is the axis-aligned bounding box points are encoded against: an
// origin (lower corner) plus a diameter per axis. Each axis maps to the
// lattice with its own diameter; FromLocalPoints and FromGlobalPoints
// always produce equal diameters, so the boxes they build are cubes.
type Domain struct {
	Origin   [3]float64
	Diameter [3]float64
}

// FromLocalPoints computes the smallest axis-aligned cube containing
// every point in pts, inflated by domainTolerance on each axis. It does
// not consult other ranks; use FromGlobalPoints to compute a domain
// shared by the whole distributed computation.
func FromLocalPoints(pts []Point) Domain {
	if len(pts) == 0 {
		return Domain{}
	}

	min := [3]float64{pts[0].X, pts[0].Y, pts[0].Z}
	max := min
	for _, p := range pts[1:] {
		min[0] = math.Min(min[0], p.X)
		min[1] = math.Min(min[1], p.Y)
		min[2] = math.Min(min[2], p.Z)
		max[0] = math.Max(max[0], p.X)
		max[1] = math.Max(max[1], p.Y)
		max[2] = math.Max(max[2], p.Z)
	}
	return cubeFromBounds(min, max)
}

// FromGlobalPoints computes the domain shared by every rank: a local
// min/max reduced across the communicator, then rebuilt into a single
// box so every rank encodes points against identical bounds.
func FromGlobalPoints(ctx context.Context, pts []Point, comm Communicator) (Domain, error) {
	var min, max [3]float64
	if len(pts) == 0 {
		min = [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
		max = [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	} else {
		min = [3]float64{pts[0].X, pts[0].Y, pts[0].Z}
		max = min
		for _, p := range pts[1:] {
			min[0] = math.Min(min[0], p.X)
			min[1] = math.Min(min[1], p.Y)
			min[2] = math.Min(min[2], p.Z)
			max[0] = math.Max(max[0], p.X)
			max[1] = math.Max(max[1], p.Y)
			max[2] = math.Max(max[2], p.Z)
		}
	}

	gmin, err := comm.AllReduce(ctx, min, ReduceMin)
	if err != nil {
		return Domain{}, fmt.Errorf("octree: reducing global min: %w", err)
	}
	gmax, err := comm.AllReduce(ctx, max, ReduceMax)
	if err != nil {
		return Domain{}, fmt.Errorf("octree: reducing global max: %w", err)
	}

	return cubeFromBounds(gmin, gmax), nil
}

func cubeFromBounds(min, max [3]float64) Domain {
	var widest float64
	for axis := 0; axis < 3; axis++ {
		widest = math.Max(widest, max[axis]-min[axis])
	}
	d := widest * (1 + domainTolerance)
	if d == 0 {
		d = domainTolerance
	}

	var span, origin [3]float64
	for axis := 0; axis < 3; axis++ {
		span[axis] = d
		center := (min[axis] + max[axis]) / 2
		origin[axis] = center - d/2
	}
	return Domain{Origin: origin, Diameter: span}
}

// Anchor maps a point in this domain to its deepest-level lattice anchor.
// Returns an error if the point lies outside the domain.
func (d Domain) Anchor(x, y, z float64) (Anchor, error) {
	coords := [3]float64{x, y, z}
	var out [3]uint32
	for axis, c := range coords {
		if d.Diameter[axis] <= 0 {
			return Anchor{}, fmt.Errorf("octree: domain has non-positive diameter %v", d.Diameter)
		}
		frac := (c - d.Origin[axis]) / d.Diameter[axis]
		if frac < 0 || frac >= 1 {
			return Anchor{}, fmt.Errorf("octree: point %v outside domain (origin %v diameter %v)", coords, d.Origin, d.Diameter)
		}
		out[axis] = uint32(frac * LatticeSize)
	}
	return Anchor{X: out[0], Y: out[1], Z: out[2]}, nil
}

// Coordinates maps a deepest-level anchor back to the lower-corner point
// of its cell, inverting Anchor.
func (d Domain) Coordinates(a Anchor) [3]float64 {
	lattice := [3]uint32{a.X, a.Y, a.Z}
	var out [3]float64
	for axis := 0; axis < 3; axis++ {
		cellSize := d.Diameter[axis] / LatticeSize
		out[axis] = d.Origin[axis] + float64(lattice[axis])*cellSize
	}
	return out
}

// BoxCoordinates returns the eight corners of k's cube in this domain,
// lower corner first, in the same bit order as Key.Children.
func (d Domain) BoxCoordinates(k Key) [8][3]float64 {
	level := k.Level()
	a := k.Anchor()
	var size [3]float64
	for axis := 0; axis < 3; axis++ {
		size[axis] = float64(uint32(1)<<uint(DeepestLevel-level)) * (d.Diameter[axis] / LatticeSize)
	}
	lower := d.Coordinates(a)

	var out [8][3]float64
	for c := 0; c < 8; c++ {
		out[c] = [3]float64{
			lower[0] + float64(c&1)*size[0],
			lower[1] + float64((c>>1)&1)*size[1],
			lower[2] + float64((c>>2)&1)*size[2],
		}
	}
	return out
}

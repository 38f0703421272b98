// SPDX-License-Identifier: MIT

package octree

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mortontree/octree/internal/wire"
)

// Sorter redistributes points across every rank of comm so that, after
// Sort returns, rank i's local points all have keys less than or equal
// to every key held by rank i+1: a distributed sort by Morton key. The
// production implementation of this primitive (a true parallel sample
// sort or bucket sort over thousands of ranks) is assumed external and
// out of scope; SampleSorter is a reference implementation adequate for
// tests and the single-process cmd/octreebuild harness, not a
// performance claim.
type Sorter interface {
	// Sort redistributes points, returning this rank's share. k is an
	// opaque oversampling parameter controlling how many local samples
	// each rank contributes when estimating global splitters; it is
	// never derived from point or rank count, only threaded through.
	Sort(ctx context.Context, points []Point, comm Communicator, k int) ([]Point, error)
}

// SampleSorter is the reference Sorter: each rank locally sorts and
// samples k of its own points, rank 0 gathers every rank's samples and
// picks size-1 evenly spaced splitters, broadcasts them back, and every
// rank redistributes its points into the resulting buckets with one
// Send/Recv round-trip per peer.
type SampleSorter struct{}

func (SampleSorter) Sort(ctx context.Context, points []Point, comm Communicator, k int) ([]Point, error) {
	local := append([]Point(nil), points...)
	sortPoints(local)

	size := comm.Size()
	rank := comm.Rank()
	if size == 1 {
		return local, nil
	}

	samples := sampleKeys(local, k)

	splitters, err := gatherSplitters(ctx, comm, rank, size, samples)
	if err != nil {
		return nil, fmt.Errorf("octree: computing sort splitters: %w", err)
	}

	buckets := partitionByKey(local, splitters)

	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		recordBuf := wire.MarshalRecords(toRecords(buckets[r]))
		payload := wire.Frame(recordBuf)
		wire.PutBuffer(recordBuf)
		if err := comm.Send(ctx, r, payload); err != nil {
			return nil, fmt.Errorf("octree: sending bucket to rank %d: %w", r, err)
		}
	}

	merged := append([]Point(nil), buckets[rank]...)
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		buf, err := comm.Recv(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("octree: receiving bucket from rank %d: %w", r, err)
		}
		payload, err := wire.Unframe(buf)
		if err != nil {
			return nil, fmt.Errorf("octree: unframing bucket from rank %d: %w", r, err)
		}
		recs, err := wire.UnmarshalRecords(payload)
		if err != nil {
			return nil, fmt.Errorf("octree: decoding bucket from rank %d: %w", r, err)
		}
		merged = append(merged, fromRecords(recs)...)
	}

	sortPoints(merged)
	return merged, nil
}

// sampleKeys picks up to k evenly spaced keys from sorted.
func sampleKeys(sorted []Point, k int) []Key {
	if k <= 0 || len(sorted) == 0 {
		return nil
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	out := make([]Key, k)
	stride := len(sorted) / k
	if stride == 0 {
		stride = 1
	}
	for i := 0; i < k; i++ {
		idx := i * stride
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out[i] = sorted[idx].Key
	}
	return out
}

// gatherSplitters sends this rank's samples to rank 0, which sorts every
// rank's contribution and picks size-1 evenly spaced splitters, then
// sends the splitter set back to every other rank.
func gatherSplitters(ctx context.Context, comm Communicator, rank, size int, samples []Key) ([]Key, error) {
	if rank != 0 {
		if err := comm.Send(ctx, 0, encodeKeys(samples)); err != nil {
			return nil, err
		}
		buf, err := comm.Recv(ctx, 0)
		if err != nil {
			return nil, err
		}
		return decodeKeys(buf), nil
	}

	all := append([]Key(nil), samples...)
	for r := 1; r < size; r++ {
		buf, err := comm.Recv(ctx, r)
		if err != nil {
			return nil, err
		}
		all = append(all, decodeKeys(buf)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })

	splitters := pickSplitters(all, size-1)
	encoded := encodeKeys(splitters)
	for r := 1; r < size; r++ {
		if err := comm.Send(ctx, r, encoded); err != nil {
			return nil, err
		}
	}
	return splitters, nil
}

func pickSplitters(sorted []Key, n int) []Key {
	if n <= 0 || len(sorted) == 0 {
		return nil
	}
	out := make([]Key, 0, n)
	for i := 1; i <= n; i++ {
		idx := i * len(sorted) / (n + 1)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out = append(out, sorted[idx])
	}
	return out
}

// partitionByKey splits sorted into len(splitters)+1 buckets: bucket i
// holds every point with key <= splitters[i] and > splitters[i-1].
func partitionByKey(sorted []Point, splitters []Key) [][]Point {
	buckets := make([][]Point, len(splitters)+1)
	i := 0
	for b := 0; b < len(splitters); b++ {
		start := i
		for i < len(sorted) && !splitters[b].Less(sorted[i].Key) {
			i++
		}
		buckets[b] = sorted[start:i]
	}
	buckets[len(splitters)] = sorted[i:]
	return buckets
}

func encodeKeys(keys []Key) []byte {
	buf := make([]byte, 8*len(keys))
	for i, k := range keys {
		binary.LittleEndian.PutUint64(buf[i*8:], k.Packed())
	}
	return buf
}

func decodeKeys(buf []byte) []Key {
	out := make([]Key, len(buf)/8)
	for i := range out {
		out[i] = FromMorton(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func toRecords(points []Point) []wire.PointRecord {
	out := make([]wire.PointRecord, len(points))
	for i, p := range points {
		a := p.Key.Anchor()
		out[i] = wire.PointRecord{
			X: p.X, Y: p.Y, Z: p.Z,
			GlobalIdx: p.GlobalIdx,
			AnchorX:   uint64(a.X), AnchorY: uint64(a.Y), AnchorZ: uint64(a.Z),
			Packed: p.Key.Packed(),
		}
	}
	return out
}

func fromRecords(recs []wire.PointRecord) []Point {
	out := make([]Point, len(recs))
	for i, r := range recs {
		out[i] = Point{
			X: r.X, Y: r.Y, Z: r.Z,
			GlobalIdx: r.GlobalIdx,
			Key:       FromMorton(r.Packed),
		}
	}
	return out
}

// SPDX-License-Identifier: MIT

package octree

import (
	"context"
	"fmt"

	"github.com/mortontree/octree/internal/wire"
)

// Every boundary exchange in the distributed builder (Phases 5, 6, and
// 8) follows the same shape: send something to rank-1, receive the
// corresponding thing from rank+1, and elide whichever side doesn't
// exist at the first or last rank. These helpers frame the payload
// (count-before-payload, optionally LZF-compressed, via internal/wire)
// and guard against sending to or receiving from a rank that isn't
// there.

// SendToPrevious sends payload to rank-1, framed. A no-op at rank 0.
func SendToPrevious(ctx context.Context, comm Communicator, payload []byte) error {
	rank := comm.Rank()
	if rank == 0 {
		return nil
	}
	if err := comm.Send(ctx, rank-1, wire.Frame(payload)); err != nil {
		return fmt.Errorf("octree: sending to rank %d: %w", rank-1, err)
	}
	return nil
}

// SendToNext sends payload to rank+1, framed. A no-op at the last rank.
func SendToNext(ctx context.Context, comm Communicator, payload []byte) error {
	rank, size := comm.Rank(), comm.Size()
	if rank == size-1 {
		return nil
	}
	if err := comm.Send(ctx, rank+1, wire.Frame(payload)); err != nil {
		return fmt.Errorf("octree: sending to rank %d: %w", rank+1, err)
	}
	return nil
}

// RecvFromNext receives and unframes a payload from rank+1. ok is false
// at the last rank, where there is no next rank to receive from.
func RecvFromNext(ctx context.Context, comm Communicator) (payload []byte, ok bool, err error) {
	rank, size := comm.Rank(), comm.Size()
	if rank == size-1 {
		return nil, false, nil
	}
	buf, err := comm.Recv(ctx, rank+1)
	if err != nil {
		return nil, false, fmt.Errorf("octree: receiving from rank %d: %w", rank+1, err)
	}
	payload, err = wire.Unframe(buf)
	if err != nil {
		return nil, false, fmt.Errorf("octree: unframing payload from rank %d: %w", rank+1, err)
	}
	return payload, true, nil
}

// RecvFromPrevious receives and unframes a payload from rank-1. ok is
// false at rank 0, where there is no previous rank to receive from.
func RecvFromPrevious(ctx context.Context, comm Communicator) (payload []byte, ok bool, err error) {
	rank := comm.Rank()
	if rank == 0 {
		return nil, false, nil
	}
	buf, err := comm.Recv(ctx, rank-1)
	if err != nil {
		return nil, false, fmt.Errorf("octree: receiving from rank %d: %w", rank-1, err)
	}
	payload, err = wire.Unframe(buf)
	if err != nil {
		return nil, false, fmt.Errorf("octree: unframing payload from rank %d: %w", rank-1, err)
	}
	return payload, true, nil
}

// SendKeyToPrevious sends a single key to rank-1 (Phase 5's boundary-key
// handoff in completeBlockTree). A no-op at rank 0.
func SendKeyToPrevious(ctx context.Context, comm Communicator, k Key) error {
	return SendToPrevious(ctx, comm, encodeKeys([]Key{k}))
}

// RecvKeyFromNext receives the single key sent by rank+1 via
// SendKeyToPrevious. ok is false at the last rank.
func RecvKeyFromNext(ctx context.Context, comm Communicator) (Key, bool, error) {
	buf, ok, err := RecvFromNext(ctx, comm)
	if err != nil || !ok {
		return Key{}, ok, err
	}
	keys := decodeKeys(buf)
	if len(keys) != 1 {
		return Key{}, false, fmt.Errorf("octree: expected 1 key in boundary handoff, got %d", len(keys))
	}
	return keys[0], true, nil
}

// SendPointsToPrevious sends a batch of points to rank-1 (Phase 6's
// point-ownership transfer). A no-op at rank 0.
func SendPointsToPrevious(ctx context.Context, comm Communicator, points []Point) error {
	buf := wire.MarshalRecords(toRecords(points))
	err := SendToPrevious(ctx, comm, buf)
	wire.PutBuffer(buf)
	return err
}

// RecvPointsFromNext receives the batch of points sent by rank+1 via
// SendPointsToPrevious. ok is false at the last rank.
func RecvPointsFromNext(ctx context.Context, comm Communicator) ([]Point, bool, error) {
	buf, ok, err := RecvFromNext(ctx, comm)
	if err != nil || !ok {
		return nil, ok, err
	}
	recs, err := wire.UnmarshalRecords(buf)
	if err != nil {
		return nil, false, fmt.Errorf("octree: decoding points from boundary transfer: %w", err)
	}
	return fromRecords(recs), true, nil
}

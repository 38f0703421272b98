// SPDX-License-Identifier: MIT

// Package wire implements the on-the-wire point-record codec used by
// boundary exchanges: a fixed 64-byte-per-point binary layout, optional
// LZF compression of the batched payload, and a small framing format so
// a receiver knows how many bytes to read and whether to inflate them.
//
// MarshalRecords draws its scratch buffer from Pool (a *[]byte sync.Pool
// with live/total allocation counters) rather than allocating fresh on
// every call; callers return it via PutBuffer once sent. Compression and
// decompression buffers are allocated directly, since their contents are
// copied into the caller's frame or result slice before the scratch
// buffer goes out of scope.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	lzf "github.com/zhuyie/golzf"
)

// RecordSize is the fixed marshaled size of one PointRecord: 3 float64
// coordinates, a global index, three anchor words widened to uint64, and
// the packed Morton key, all little-endian fixed-width fields.
const RecordSize = 64

// PointRecord is the wire-layout mirror of octree.Point. It lives in
// this package (rather than importing the octree package's Point type
// directly) so the codec has no dependency on the tree algorithms that
// consume it.
type PointRecord struct {
	X, Y, Z                   float64
	GlobalIdx                 uint64
	AnchorX, AnchorY, AnchorZ uint64
	Packed                    uint64
}

// MarshalRecords encodes records into RecordSize*len(records) bytes,
// drawn from Pool. Callers must return the slice to Pool via PutBuffer
// once the payload has been sent.
func MarshalRecords(records []PointRecord) []byte {
	bufp := Pool.Get()
	buf := grow(*bufp, RecordSize*len(records))

	for i, r := range records {
		off := i * RecordSize
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(r.X))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(r.Y))
		binary.LittleEndian.PutUint64(buf[off+16:], math.Float64bits(r.Z))
		binary.LittleEndian.PutUint64(buf[off+24:], r.GlobalIdx)
		binary.LittleEndian.PutUint64(buf[off+32:], r.AnchorX)
		binary.LittleEndian.PutUint64(buf[off+40:], r.AnchorY)
		binary.LittleEndian.PutUint64(buf[off+48:], r.AnchorZ)
		binary.LittleEndian.PutUint64(buf[off+56:], r.Packed)
	}

	*bufp = buf
	return buf
}

// PutBuffer returns a buffer obtained from MarshalRecords to Pool.
func PutBuffer(buf []byte) {
	Pool.Put(&buf)
}

// UnmarshalRecords decodes a RecordSize-aligned byte slice produced by
// MarshalRecords back into records.
func UnmarshalRecords(buf []byte) ([]PointRecord, error) {
	if len(buf)%RecordSize != 0 {
		return nil, fmt.Errorf("wire: record buffer length %d not a multiple of %d", len(buf), RecordSize)
	}
	n := len(buf) / RecordSize
	out := make([]PointRecord, n)
	for i := range out {
		off := i * RecordSize
		out[i] = PointRecord{
			X:         math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])),
			Y:         math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8:])),
			Z:         math.Float64frombits(binary.LittleEndian.Uint64(buf[off+16:])),
			GlobalIdx: binary.LittleEndian.Uint64(buf[off+24:]),
			AnchorX:   binary.LittleEndian.Uint64(buf[off+32:]),
			AnchorY:   binary.LittleEndian.Uint64(buf[off+40:]),
			AnchorZ:   binary.LittleEndian.Uint64(buf[off+48:]),
			Packed:    binary.LittleEndian.Uint64(buf[off+56:]),
		}
	}
	return out, nil
}

// Frame prefixes a payload with a one-byte compression flag and a
// 4-byte little-endian uncompressed length, compressing the payload with
// LZF when doing so actually shrinks it. This is the count-before-
// payload framing boundary exchanges send across a Communicator.
func Frame(payload []byte) []byte {
	compressed, ok := compress(payload)
	frame := make([]byte, 5, 5+len(payload))
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(payload)))

	if ok {
		frame[0] = 1
		return append(frame, compressed...)
	}
	frame[0] = 0
	return append(frame, payload...)
}

// Unframe reverses Frame, inflating the payload if it was compressed.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < 5 {
		return nil, fmt.Errorf("wire: frame too short: %d bytes", len(frame))
	}
	flag := frame[0]
	origLen := binary.LittleEndian.Uint32(frame[1:])
	body := frame[5:]

	switch flag {
	case 0:
		if uint32(len(body)) != origLen {
			return nil, fmt.Errorf("wire: raw frame length mismatch: got %d, want %d", len(body), origLen)
		}
		return body, nil
	case 1:
		out := make([]byte, origLen)
		n, err := lzf.Decompress(body, out)
		if err != nil {
			return nil, fmt.Errorf("wire: lzf decompress: %w", err)
		}
		if uint32(n) != origLen {
			return nil, fmt.Errorf("wire: lzf decompress produced %d bytes, want %d", n, origLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: unknown frame flag %d", flag)
	}
}

// compress attempts an LZF compression of payload, returning ok=false if
// the library declines (payload not compressible, or smaller than LZF's
// minimum) rather than shrinking it.
func compress(payload []byte) ([]byte, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	out := make([]byte, len(payload))
	n, err := lzf.Compress(payload, out)
	if err != nil || n <= 0 || n >= len(payload) {
		return nil, false
	}
	return out[:n], true
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

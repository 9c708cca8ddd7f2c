package qmesh

import "github.com/dankermu/digital-earth/internal/apperr"

// ZigzagEncode maps a signed integer onto the non-negative integers so
// small magnitudes (positive or negative) encode to small values.
func ZigzagEncode(v int) int {
	return (v << 1) ^ (v >> (intBits - 1))
}

// ZigzagDecode inverts ZigzagEncode.
func ZigzagDecode(u int) int {
	return (u >> 1) ^ -(u & 1)
}

const intBits = 32 << (^uint(0) >> 63) // 32 on 32-bit platforms, 64 on 64-bit

// DeltaZigzagEncode encodes a sequence of integers as successive
// differences, each zigzag-mapped to stay non-negative.
func DeltaZigzagEncode(values []int) []int {
	out := make([]int, len(values))
	prev := 0
	for i, v := range values {
		out[i] = ZigzagEncode(v - prev)
		prev = v
	}
	return out
}

// DeltaZigzagDecode inverts DeltaZigzagEncode.
func DeltaZigzagDecode(encoded []int) []int {
	out := make([]int, len(encoded))
	prev := 0
	for i, e := range encoded {
		v := ZigzagDecode(e) + prev
		out[i] = v
		prev = v
	}
	return out
}

// HighWaterMarkEncode compresses a triangle-index stream: each original
// index i is emitted as hwm-i, and hwm advances to i+1 the first time i is
// seen. Every index must either have already appeared or be exactly the
// next new index (hwm) — referencing an index further ahead is invalid.
func HighWaterMarkEncode(indices []int) ([]int, error) {
	codes := make([]int, len(indices))
	hwm := 0
	for pos, i := range indices {
		if i > hwm {
			return nil, apperr.New(apperr.InvalidArgument, "triangle index references a vertex before it first appears")
		}
		codes[pos] = hwm - i
		if i == hwm {
			hwm++
		}
	}
	return codes, nil
}

// HighWaterMarkDecode inverts HighWaterMarkEncode.
func HighWaterMarkDecode(codes []int) []int {
	indices := make([]int, len(codes))
	hwm := 0
	for pos, code := range codes {
		i := hwm - code
		indices[pos] = i
		if i == hwm {
			hwm++
		}
	}
	return indices
}

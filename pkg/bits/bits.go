// Copyright 2026 The degrados Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bits includes utilities for bit operations.
package bits

import "math/bits"

// Unsigned is the set of integer types the helpers in this package accept.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T Unsigned](is ...int) T {
	var ret T
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T Unsigned](i int) T {
	return T(1) << T(i)
}

// IsPowerOfTwo returns true if v is a power of 2.
func IsPowerOfTwo[T Unsigned](v T) bool {
	if v == 0 {
		return false
	}
	return v&(v-1) == 0
}

// AlignDown returns the largest multiple of alignment that is <= v.
// alignment must be a power of 2.
func AlignDown[T Unsigned](v, alignment T) T {
	return v &^ (alignment - 1)
}

// AlignUp rounds v up to the next multiple of alignment. alignment must be
// a power of 2. The result wraps if v is within alignment of the maximum
// value of T.
func AlignUp[T Unsigned](v, alignment T) T {
	return AlignDown(v+alignment-1, alignment)
}

// IsAligned returns true if v is a multiple of alignment.
func IsAligned[T Unsigned](v, alignment T) bool {
	return v&(alignment-1) == 0
}

// TrailingZeros64 returns the number of bits before the least significant 1
// bit in x; in other words, it returns the index of the least significant 1
// bit in x. If x is 0, TrailingZeros64 returns 64.
func TrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in
// x. If x is 0, MostSignificantOne64 returns 64.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - bits.LeadingZeros64(x)
}

// ForEachSetBit64 calls f once for each set bit in x, with argument i equal to
// the set bit's index.
func ForEachSetBit64(x uint64, f func(i int)) {
	for x != 0 {
		i := TrailingZeros64(x)
		f(i)
		x &^= MaskOf[uint64](i)
	}
}

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

// Package bitmap provides a dense bitmap, used to track physical frames.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are
// supported by this Bitmap implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// Bitmap implements an efficient bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of addressable bits.
	size uint32

	// bitBlock holds the bits. Each block holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	if start >= b.size {
		return MaxBitEntryLimit, fmt.Errorf("given start of range exceeds bitmap size")
	}
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := uint32(bits.TrailingZeros64(^w) + i*64)
			if r >= b.size {
				break
			}
			return r, nil
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no unset bits")
}

// Add sets bit i. It panics if i is out of range.
func (b *Bitmap) Add(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask == 0 {
		b.bitBlock[blockNum] = old | mask
		b.numOnes++
	}
}

// Remove clears bit i.
func (b *Bitmap) Remove(i uint32) {
	if i >= b.size {
		return
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if old := b.bitBlock[blockNum]; old&mask != 0 {
		b.bitBlock[blockNum] = old &^ mask
		b.numOnes--
	}
}

// AddRange sets the bits within [begin, end).
func (b *Bitmap) AddRange(begin, end uint32) {
	if end > b.size {
		end = b.size
	}
	for i := begin; i < end; i++ {
		b.Add(i)
	}
}

// ToSlice transforms the Bitmap into a slice. For example, a bitmap of
// [0, 1, 0, 1] will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	base := 0
	for i := 0; i < len(b.bitBlock); i++ {
		bitBlock := b.bitBlock[i]
		for bitBlock != 0 {
			// Extract the lowest set 1 bit.
			j := bitBlock & -bitBlock
			bitmapSlice = append(bitmapSlice, uint32(base+bits.OnesCount64(j-1)))
			bitBlock ^= j
		}
		base += 64
	}
	return bitmapSlice
}

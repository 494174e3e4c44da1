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

package hostarch

import "testing"

func TestIsCanonical(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want bool
	}{
		{0, true},
		{0x0000_7fff_ffff_ffff, true},
		{0x0000_8000_0000_0000, false},
		{0x1234_0000_0000_0000, false},
		{0xffff_7fff_ffff_ffff, false},
		{0xffff_8000_0000_0000, true},
		{0xffff_ffff_ffff_f000, true},
	} {
		if got := tc.addr.IsCanonical(); got != tc.want {
			t.Errorf("%v.IsCanonical() = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestSignExtend(t *testing.T) {
	for _, tc := range []struct {
		addr, want Addr
	}{
		{0x0000_7fff_ffff_f000, 0x0000_7fff_ffff_f000},
		{0x0000_ffff_ffff_f000, 0xffff_ffff_ffff_f000},
		{0x1fff_ff80_0000_0000, 0xffff_ff80_0000_0000},
	} {
		if got := tc.addr.SignExtend(); got != tc.want {
			t.Errorf("%v.SignExtend() = %v, want %v", tc.addr, got, tc.want)
		}
		if !tc.addr.SignExtend().IsCanonical() {
			t.Errorf("%v.SignExtend() is not canonical", tc.addr)
		}
	}
}

func TestRounding(t *testing.T) {
	if got, want := Addr(0x1234).RoundDown(), Addr(0x1000); got != want {
		t.Errorf("RoundDown = %v, want %v", got, want)
	}
	if got, ok := Addr(0x1234).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp = %v, %v, want 0x2000, true", got, ok)
	}
	if _, ok := Addr(^uintptr(0)).RoundUp(); ok {
		t.Errorf("RoundUp of the last address did not report wraparound")
	}
	if got := Addr(0x3fffff).HugeRoundDown(); got != 0x200000 {
		t.Errorf("HugeRoundDown = %v, want 0x200000", got)
	}
	if got := Addr(0x1234).PageOffset(); got != 0x234 {
		t.Errorf("PageOffset = %#x, want 0x234", got)
	}
}

func TestAddrRange(t *testing.T) {
	ar := AddrRange{Start: 0x1000, End: 0x3000}
	if !ar.WellFormed() || !ar.IsPageAligned() {
		t.Errorf("%v: want well formed and page aligned", ar)
	}
	if ar.Length() != 0x2000 {
		t.Errorf("%v.Length() = %#x, want 0x2000", ar, ar.Length())
	}
	if !ar.Contains(0x2fff) || ar.Contains(0x3000) {
		t.Errorf("%v.Contains is not half open", ar)
	}
}

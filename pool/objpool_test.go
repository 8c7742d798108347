// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "testing"

func TestBufferPoolSize(t *testing.T) {
	bp := NewBufferPool(1024)
	b := bp.Get()
	if len(*b) != 1024 {
		t.Fatalf("len = %d, want 1024", len(*b))
	}
	*b = (*b)[:10]
	bp.Put(b)
	again := bp.Get()
	if len(*again) != 1024 {
		t.Fatalf("recycled buffer len = %d", len(*again))
	}
	small := make([]byte, 8)
	bp.Put(&small) // dropped
	bp.Put(nil)
}

func TestSyncPoolCreator(t *testing.T) {
	calls := 0
	sp := NewSyncPool(func() int { calls++; return 7 })
	if v := sp.Get(); v != 7 {
		t.Fatalf("Get = %d", v)
	}
	if calls == 0 {
		t.Fatal("creator not used")
	}
}

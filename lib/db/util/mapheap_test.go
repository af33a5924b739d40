package util

import (
	"testing"
)

func TestMapHeapOrder(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}

	item, ok := mh.Peek()
	if !ok || item.Key != 3 || item.Priority != 50 {
		t.Errorf("Expected min item (3,50), got %v", item)
	}

	// updating an existing key must re-order the heap
	mh.AddItem(2, 10)
	if item, _ := mh.Peek(); item.Key != 2 {
		t.Errorf("Expected key 2 after update, got %v", item)
	}
	if mh.Len() != 3 {
		t.Errorf("Update must not add a new item, len is %d", mh.Len())
	}
}

func TestMapHeapRemoveByKey(t *testing.T) {
	mh := NewMapHeap()
	for i := uint64(1); i <= 5; i++ {
		mh.AddItem(i, i*10)
	}

	prio, ok := mh.RemoveByKey(3)
	if !ok || prio != 30 {
		t.Errorf("Expected to remove key 3 with priority 30, got %d %v", prio, ok)
	}
	if mh.Contains(3) {
		t.Errorf("Key 3 should be gone")
	}
	if _, ok := mh.RemoveByKey(3); ok {
		t.Errorf("Second removal must report false")
	}

	got := mh.PopDue(^uint64(0))
	want := []uint64{1, 2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestMapHeapPopDue(t *testing.T) {
	tests := []struct {
		name  string
		limit uint64
		want  int
		left  int
	}{
		{"nothing due", 5, 0, 4},
		{"exact boundary", 20, 2, 2},
		{"all due", 1000, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mh := NewMapHeap()
			mh.AddItem(1, 10)
			mh.AddItem(2, 20)
			mh.AddItem(3, 30)
			mh.AddItem(4, 40)

			due := mh.PopDue(tt.limit)
			if len(due) != tt.want {
				t.Errorf("Expected %d due items, got %d (%v)", tt.want, len(due), due)
			}
			if mh.Len() != tt.left {
				t.Errorf("Expected %d items left, got %d", tt.left, mh.Len())
			}
			for _, k := range due {
				if mh.Contains(k) {
					t.Errorf("Popped key %d is still in the heap", k)
				}
			}
		})
	}
}

func TestMapHeapPeekEmpty(t *testing.T) {
	mh := NewMapHeap()
	if _, ok := mh.Peek(); ok {
		t.Errorf("Peek on empty heap should report false")
	}
	if due := mh.PopDue(^uint64(0)); len(due) != 0 {
		t.Errorf("PopDue on empty heap should return nothing, got %v", due)
	}
}

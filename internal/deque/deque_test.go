package deque

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestPushPopOrdering(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	d.PushBack(2)
	d.PushFront(0)

	want := []int{0, 1, 2}
	got := d.ToSlice()
	if len(got) != len(want) {
		t.Fatalf("unexpected contents: %s", spew.Sdump(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected contents at %d: %s", i, spew.Sdump(got))
		}
	}

	if v, ok := d.PopFront(); !ok || v != 0 {
		t.Fatalf("PopFront() = %d, %v; want 0, true", v, ok)
	}
	if v, ok := d.PopBack(); !ok || v != 2 {
		t.Fatalf("PopBack() = %d, %v; want 2, true", v, ok)
	}
	if d.Size() != 1 {
		t.Fatalf("Size() = %d; want 1", d.Size())
	}
}

func TestPopEmpty(t *testing.T) {
	d := New[string]()
	if _, ok := d.PopFront(); ok {
		t.Fatalf("PopFront on empty deque returned ok=true")
	}
	if _, ok := d.PopBack(); ok {
		t.Fatalf("PopBack on empty deque returned ok=true")
	}
}

func TestRemoveWhereInterior(t *testing.T) {
	d := New[int]()
	for _, v := range []int{1, 2, 3, 4, 5} {
		d.PushBack(v)
	}
	if !d.RemoveWhere(func(v int) bool { return v == 3 }) {
		t.Fatalf("RemoveWhere(3) = false; want true")
	}
	if d.Size() != 4 {
		t.Fatalf("Size() = %d; want 4", d.Size())
	}
	got := d.ToSlice()
	want := []int{1, 2, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected contents after removal: %s", spew.Sdump(got))
		}
	}
	// linkage must stay intact for further push/pop after an interior removal.
	d.PushBack(6)
	if v, ok := d.PopBack(); !ok || v != 6 {
		t.Fatalf("PopBack() after removal = %d, %v; want 6, true", v, ok)
	}
}

func TestRemoveWhereNoMatch(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	if d.RemoveWhere(func(v int) bool { return v == 99 }) {
		t.Fatalf("RemoveWhere matched nonexistent value")
	}
	if d.Size() != 1 {
		t.Fatalf("Size() = %d; want 1", d.Size())
	}
}

func TestFindAndEachShortCircuit(t *testing.T) {
	d := New[int]()
	for _, v := range []int{10, 20, 30} {
		d.PushBack(v)
	}
	if v, ok := d.Find(func(v int) bool { return v > 15 }); !ok || v != 20 {
		t.Fatalf("Find(>15) = %d, %v; want 20, true", v, ok)
	}

	seen := []int{}
	d.Each(func(v int) bool {
		seen = append(seen, v)
		return v != 20
	})
	if len(seen) != 2 {
		t.Fatalf("Each did not stop early: %s", spew.Sdump(seen))
	}
}

package util

import (
	"sort"
	"strconv"
	"testing"
)

// TestNewAccessHeap tests the creation of a new AccessHeap
func TestNewAccessHeap(t *testing.T) {
	h := NewAccessHeap()

	if h == nil {
		t.Fatal("NewAccessHeap() returned nil")
	}

	if h.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", h.Len())
	}

	if len(h.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(h.itemsMap))
	}
}

// TestTouch tests inserting keys into the index
func TestTouch(t *testing.T) {
	h := NewAccessHeap()

	h.Touch("a", 100)
	h.Touch("b", 200)
	h.Touch("c", 50)

	if h.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", h.Len())
	}

	for _, key := range []string{"a", "b", "c"} {
		if !h.Contains(key) {
			t.Errorf("Heap should contain key %q", key)
		}
	}

	// min heap, so the oldest access should be first
	key, at, exists := h.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if key != "c" || at != 50 {
		t.Errorf("Expected coldest item to be (c,50), got (%s,%d)", key, at)
	}
}

// TestTouchUpdates tests that touching a known key reorders the heap
func TestTouchUpdates(t *testing.T) {
	h := NewAccessHeap()

	h.Touch("a", 100)
	h.Touch("b", 200)

	// key a becomes the most recently used
	h.Touch("a", 300)

	key, _, _ := h.Peek()
	if key != "b" {
		t.Errorf("Coldest key should now be b, got %s", key)
	}

	// and back again
	h.Touch("b", 400)
	h.Touch("a", 50)

	key, at, _ := h.Peek()
	if key != "a" || at != 50 {
		t.Errorf("Coldest item should be (a,50), got (%s,%d)", key, at)
	}
}

// TestRemoveByKey tests removing keys from the index
func TestRemoveByKey(t *testing.T) {
	h := NewAccessHeap()

	h.Touch("a", 100)
	h.Touch("b", 200)
	h.Touch("c", 300)

	at, exists := h.RemoveByKey("b")
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if at != 200 {
		t.Errorf("RemoveByKey should return access time 200, got %d", at)
	}

	if h.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", h.Len())
	}
	if h.Contains("b") {
		t.Error("Heap should not contain key b after removal")
	}

	// removing an unknown key is a no-op
	if _, exists = h.RemoveByKey("nope"); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests that keys pop in coldest-first order
func TestPopOrder(t *testing.T) {
	h := NewAccessHeap()

	items := []struct {
		key string
		at  int64
	}{
		{"e", 50},
		{"c", 30},
		{"a", 10},
		{"d", 40},
		{"b", 20},
	}

	for _, item := range items {
		h.Touch(item.key, item.at)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].at < items[j].at
	})

	for i, expected := range items {
		key, at, ok := h.PopColdest()
		if !ok {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}
		if key != expected.key || at != expected.at {
			t.Errorf("Pop %d: expected (%s,%d), got (%s,%d)",
				i, expected.key, expected.at, key, at)
		}
	}

	if h.Len() != 0 {
		t.Errorf("Heap should be empty after popping all items, has %d items", h.Len())
	}
}

// TestPeekEmptyHeap tests behavior when peeking an empty index
func TestPeekEmptyHeap(t *testing.T) {
	h := NewAccessHeap()

	if _, _, exists := h.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
	if _, _, exists := h.PopColdest(); exists {
		t.Error("PopColdest on empty heap should return exists=false")
	}
}

// TestLargeNumberOfKeys tests the index with many keys and interleaved
// updates and removals
func TestLargeNumberOfKeys(t *testing.T) {
	h := NewAccessHeap()

	const n = 10_000
	for i := 0; i < n; i++ {
		h.Touch("key-"+strconv.Itoa(i), int64(n-i)) // insert in reverse recency order
	}

	if h.Len() != n {
		t.Fatalf("Expected %d items, got %d", n, h.Len())
	}

	// remove every third key
	removed := 0
	for i := 0; i < n; i += 3 {
		if _, ok := h.RemoveByKey("key-" + strconv.Itoa(i)); ok {
			removed++
		}
	}

	if h.Len() != n-removed {
		t.Errorf("Expected %d items after removal, got %d", n-removed, h.Len())
	}

	// remaining keys must still pop in ascending access order
	prev := int64(-1)
	for {
		_, at, ok := h.PopColdest()
		if !ok {
			break
		}
		if at < prev {
			t.Fatalf("Pop order violated: %d after %d", at, prev)
		}
		prev = at
	}
}

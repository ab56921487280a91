package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestMarkSeenReportsDuplicates(t *testing.T) {
	c := New(4)
	if !c.MarkSeen("a") {
		t.Fatalf("first insert must be new")
	}
	if c.MarkSeen("a") {
		t.Fatalf("second insert must be a duplicate")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", c.Len())
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	c := New(2)
	c.MarkSeen("a")
	c.MarkSeen("b")
	c.MarkSeen("c")

	if !c.MarkSeen("a") {
		t.Fatalf("oldest key must have been evicted")
	}
	if c.MarkSeen("c") {
		t.Fatalf("newest key must still be remembered")
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity to bound size, got %d", c.Len())
	}
}

func TestForgetAllowsReinsertWithoutLosingNewEntry(t *testing.T) {
	c := New(2)
	c.MarkSeen("a")
	c.Forget("a")
	if !c.MarkSeen("a") {
		t.Fatalf("forgotten key must be new again")
	}
	c.MarkSeen("b")

	if c.MarkSeen("a") {
		t.Fatalf("re-added key must survive eviction of its stale slot")
	}
	c.MarkSeen("c")
	if c.MarkSeen("b") {
		t.Fatalf("b must still be remembered")
	}
}

func TestConcurrentMarkSeen(t *testing.T) {
	c := New(1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if c.MarkSeen(fmt.Sprintf("req-%d", i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if fresh != 100 {
		t.Fatalf("expected each key to be new exactly once, got %d", fresh)
	}
}

func TestForgetFreesCapacityImmediately(t *testing.T) {
	c := New(3)
	c.MarkSeen("a")
	c.MarkSeen("b")
	c.MarkSeen("c")
	c.Forget("a")
	c.Forget("b")
	c.Forget("missing")

	c.MarkSeen("d")
	c.MarkSeen("e")
	if c.Len() != 3 {
		t.Fatalf("expected forgotten slots to be reused, got %d keys", c.Len())
	}
	for _, key := range []string{"c", "d", "e"} {
		if c.MarkSeen(key) {
			t.Fatalf("%s must still be remembered", key)
		}
	}

	c.MarkSeen("f")
	if !c.MarkSeen("c") {
		t.Fatalf("c is the oldest live key and must be evicted first")
	}
}

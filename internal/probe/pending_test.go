package probe

import (
	"fmt"
	"sync"
	"testing"
)

func TestPendingSet(t *testing.T) {
	s := NewPendingSet()
	s.Add(PendingProbe{ID: "a", SlotSent: 10, Fee: 5000})
	s.Add(PendingProbe{ID: "b", SlotSent: 11})

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	p, ok := s.Get("a")
	if !ok || p.SlotSent != 10 || p.Fee != 5000 {
		t.Errorf("Get(a) = %+v, %v", p, ok)
	}

	s.Add(PendingProbe{ID: "a", SlotSent: 12})
	if p, _ := s.Get("a"); p.SlotSent != 12 {
		t.Errorf("re-Add did not replace: SlotSent = %d", p.SlotSent)
	}

	if !s.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if s.Remove("a") {
		t.Error("second Remove(a) = true, want false")
	}
	if _, ok := s.Get("a"); ok {
		t.Error("a still present after Remove")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestPendingSetConcurrent(t *testing.T) {
	s := NewPendingSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			s.Add(PendingProbe{ID: id})
			s.Get(id)
			s.Remove(id)
		}(i)
	}
	wg.Wait()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after all removed, want 0", s.Len())
	}
}

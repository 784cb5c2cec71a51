package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[string]()

	if err := r.Register("a", "alpha"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := r.Get("a")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != "alpha" {
		t.Errorf("Get() = %v, want 'alpha'", got)
	}
}

func TestBaseRegistry_RegisterEmptyName(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("", 1); err == nil {
		t.Error("Register(\"\") should return error")
	}
}

func TestBaseRegistry_RegisterDuplicate(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("x", 1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("x", 2); err == nil {
		t.Error("duplicate Register() should return error")
	}
}

func TestBaseRegistry_Remove(t *testing.T) {
	r := NewBaseRegistry[int]()
	_ = r.Register("x", 1)

	if err := r.Remove("x"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := r.Get("x"); ok {
		t.Error("Get() after Remove() should not find item")
	}
	if err := r.Remove("x"); err == nil {
		t.Error("Remove() of missing item should return error")
	}
}

func TestBaseRegistry_ListAndCount(t *testing.T) {
	r := NewBaseRegistry[int]()
	for i := 0; i < 5; i++ {
		_ = r.Register(fmt.Sprintf("item-%d", i), i)
	}

	if r.Count() != 5 {
		t.Errorf("Count() = %d, want 5", r.Count())
	}
	if len(r.List()) != 5 {
		t.Errorf("len(List()) = %d, want 5", len(r.List()))
	}
	if len(r.Names()) != 5 {
		t.Errorf("len(Names()) = %d, want 5", len(r.Names()))
	}

	r.Clear()
	if r.Count() != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", r.Count())
	}
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(fmt.Sprintf("item-%d", n), n)
			r.Get(fmt.Sprintf("item-%d", n))
			r.List()
		}(i)
	}
	wg.Wait()

	if r.Count() != 50 {
		t.Errorf("Count() = %d, want 50", r.Count())
	}
}

package cache

import "testing"

func TestLRU_GetAdd(t *testing.T) {
	c := NewLRU[string, int](2)
	if v, ok := c.Get("a"); ok || v != 0 {
		t.Fatal("expected miss")
	}
	c.Add("a", 1)
	c.Add("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	c.Add("c", 3) // evicts b, a was used more recently
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestLRU_update(t *testing.T) {
	c := NewLRU[string, int](0)
	c.Add("a", 1)
	c.Add("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) = %d, want 2", v)
	}
	c.Add("b", 3)
	if c.Len() != 1 {
		t.Errorf("capacity clamp: Len = %d", c.Len())
	}
}

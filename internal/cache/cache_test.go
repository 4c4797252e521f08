package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestGetMiss(t *testing.T) {
	c := New()
	if _, ok := c.Get("Revenue"); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestPut_FirstWriterWins(t *testing.T) {
	c := New()
	if !c.Put("Revenue", Record{Data: "Q1,1.2M", RowCount: 1, ApproxChars: 7}) {
		t.Fatal("first put should store")
	}
	if c.Put("Revenue", Record{Data: "other"}) {
		t.Error("second put must not overwrite")
	}
	got, ok := c.Get("Revenue")
	if !ok || got.Data != "Q1,1.2M" {
		t.Errorf("got %+v, %v", got, ok)
	}
}

func TestKeys_ExactNames(t *testing.T) {
	c := New()
	c.Put("Opex", Record{Data: "x"})
	c.Put("opex", Record{Data: "y"})
	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "Opex" || keys[1] != "opex" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestConcurrentPut(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	stored := make(chan int, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Put("Revenue", Record{Data: fmt.Sprint(i)}) {
				stored <- i
			}
			c.Get("Revenue")
		}(i)
	}
	wg.Wait()
	close(stored)
	n := 0
	for range stored {
		n++
	}
	if n != 1 {
		t.Errorf("expected exactly one stored writer, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

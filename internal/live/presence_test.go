package live

import (
	"fmt"
	"sync"
	"testing"
)

// TestPresence_AddLookupRemove проверяет базовые операции.
func TestPresence_AddLookupRemove(t *testing.T) {
	p := NewPresence()

	if _, ok := p.Add("u1", "c1"); ok {
		t.Fatal("первое соединение не должно ничего вытеснять")
	}
	if got, ok := p.Lookup("u1"); !ok || got != "c1" {
		t.Fatalf("Lookup(u1) = %q, %v, хотели c1", got, ok)
	}
	if !p.Remove("c1") {
		t.Fatal("Remove(c1) = false")
	}
	if _, ok := p.Lookup("u1"); ok {
		t.Error("пользователь остался после закрытия соединения")
	}
	if p.Remove("c1") {
		t.Error("повторный Remove должен вернуть false")
	}
}

// TestPresence_ReplacedConnection проверяет, что закрытие вытесненного
// соединения не удаляет запись нового.
func TestPresence_ReplacedConnection(t *testing.T) {
	p := NewPresence()
	p.Add("u1", "c1")

	replaced, ok := p.Add("u1", "c2")
	if !ok || replaced != "c1" {
		t.Fatalf("Add(u1, c2) вытеснил %q, %v, хотели c1", replaced, ok)
	}

	p.Remove("c1")
	if got, ok := p.Lookup("u1"); !ok || got != "c2" {
		t.Errorf("Lookup(u1) = %q, %v, хотели c2", got, ok)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, хотели 1", p.Len())
	}
}

// TestPresence_Concurrent проверяет параллельные подключения и отключения.
func TestPresence_Concurrent(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			conn := fmt.Sprintf("c%d", i)
			p.Add(user, conn)
			p.Lookup(user)
			p.Remove(conn)
		}()
	}
	wg.Wait()

	if p.Len() != 0 {
		t.Errorf("Len = %d, хотели 0", p.Len())
	}
}

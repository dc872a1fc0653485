package service

import (
	"testing"
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// TestPrincipalCache_GetSetInvalidate проверяет базовые операции и инвалидацию.
func TestPrincipalCache_GetSetInvalidate(t *testing.T) {
	cache := NewPrincipalCache(100, 5*time.Minute)

	if _, ok := cache.Get("user-1"); ok {
		t.Fatal("ожидался промах для нового ключа")
	}

	cache.Set(&model.User{ID: "user-1", Email: "a@bm.test", Roles: []rbac.Role{rbac.RoleAuthor}})
	got, ok := cache.Get("user-1")
	if !ok {
		t.Fatal("ожидалось попадание после Set")
	}
	if got.Email != "a@bm.test" {
		t.Errorf("Email = %q, ожидался a@bm.test", got.Email)
	}

	cache.Invalidate("user-1")
	if _, ok := cache.Get("user-1"); ok {
		t.Fatal("ожидался промах после Invalidate")
	}
}

// TestPrincipalCache_TTLExpiration проверяет истечение TTL.
func TestPrincipalCache_TTLExpiration(t *testing.T) {
	cache := NewPrincipalCache(100, 50*time.Millisecond)
	cache.Set(&model.User{ID: "ttl"})

	if _, ok := cache.Get("ttl"); !ok {
		t.Fatal("ожидалось попадание сразу после Set")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get("ttl"); ok {
		t.Fatal("ожидался промах после истечения TTL")
	}
}

// TestPrincipalCache_Eviction проверяет вытеснение при превышении размера.
func TestPrincipalCache_Eviction(t *testing.T) {
	cache := NewPrincipalCache(2, 5*time.Minute)

	cache.Set(&model.User{ID: "u1"})
	cache.Set(&model.User{ID: "u2"})
	cache.Set(&model.User{ID: "u3"})

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", cache.Len())
	}
	if _, ok := cache.Get("u1"); ok {
		t.Error("u1 должен быть вытеснен")
	}
	if _, ok := cache.Get("u3"); !ok {
		t.Error("ожидалось попадание для u3")
	}
}

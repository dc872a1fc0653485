// principal_cache.go — LRU-кэш пользователей для middleware аутентификации.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// PrincipalCache — кэш загруженных пользователей по ID с TTL.
// Любое изменение пользователя инвалидирует его запись.
type PrincipalCache struct {
	cache *expirable.LRU[string, *model.User]
}

// NewPrincipalCache создаёт кэш с максимальным размером и временем жизни записи.
func NewPrincipalCache(maxSize int, ttl time.Duration) *PrincipalCache {
	return &PrincipalCache{cache: expirable.NewLRU[string, *model.User](maxSize, nil, ttl)}
}

// Get возвращает пользователя из кэша.
func (c *PrincipalCache) Get(userID string) (*model.User, bool) {
	u, ok := c.cache.Get(userID)
	if ok {
		principalCacheHitsTotal.Inc()
		return u, true
	}
	principalCacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *PrincipalCache) Set(u *model.User) {
	c.cache.Add(u.ID, u)
}

// Invalidate удаляет запись пользователя.
func (c *PrincipalCache) Invalidate(userID string) {
	c.cache.Remove(userID)
}

// Len возвращает количество записей.
func (c *PrincipalCache) Len() int {
	return c.cache.Len()
}

// Пакет live — real-time канал уведомлений поверх WebSocket.
package live

import "sync"

// Presence — потокобезопасное отображение пользователь → соединение.
// У пользователя не более одного активного соединения: новое вытесняет старое.
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]string
}

// NewPresence создаёт пустой трекер присутствия.
func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Add связывает пользователя с соединением и возвращает вытесненное
// соединение, если оно было.
func (p *Presence) Add(userID, connID string) (replaced string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	replaced, ok = p.byUser[userID]
	if ok {
		delete(p.byConn, replaced)
	}
	p.byUser[userID] = connID
	p.byConn[connID] = userID
	return replaced, ok
}

// Remove удаляет соединение. Запись пользователя удаляется, только если
// она всё ещё указывает на это соединение.
func (p *Presence) Remove(connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[connID]
	if !ok {
		return false
	}
	delete(p.byConn, connID)
	if p.byUser[userID] == connID {
		delete(p.byUser, userID)
	}
	return true
}

// Lookup возвращает соединение пользователя.
func (p *Presence) Lookup(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	connID, ok := p.byUser[userID]
	return connID, ok
}

// Len возвращает число подключённых пользователей.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}

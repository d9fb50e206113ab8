package session

import "sync"

// Store 按用户 ID 管理会话。会话在首次查询时创建，进程内永不删除。
type Store interface {
	GetOrCreate(userID string) *Session
}

// MemoryStore 是基于内存的 Store 实现；进程重启即丢失。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetOrCreate 返回已有会话，或原子地创建一个空会话。
func (s *MemoryStore) GetOrCreate(userID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 双重检查：读锁释放后可能已被其他请求创建
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess = newSession(userID)
	s.sessions[userID] = sess
	return sess
}

// Len 返回当前会话数量。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

var ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")

// DocumentReader 只声明，实现在 store 中。
type DocumentReader interface {
	Read(ctx context.Context, documentID string) (content string, version uint64, err error)
	IsNotFound(err error) bool
}

// UserReader 身份协作方：按 userId 查展示信息。
type UserReader interface {
	Lookup(ctx context.Context, userID uint64) (displayName, avatarRef string, err error)
}

// Registry 持有 documentId -> 存活会话 的映射。
// 会话在第一次 join 时从存储水合创建，参与者清零的瞬间被驱逐；
// 驱逐后再次 join 会重新水合（内存在场状态丢弃，持久化内容不丢）。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// hydrate 合并同一文档的并发首次水合，存储只被读一次
	hydrate singleflight.Group

	docs  DocumentReader
	users UserReader
}

func NewRegistry(docs DocumentReader, users UserReader) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		docs:     docs,
		users:    users,
	}
}

// Join 返回会话和本次 upsert 出来的参与者。
// 文档在存储中不存在时返回 ErrDocumentNotFound。
func (r *Registry) Join(ctx context.Context, documentID, sessionID string, userID uint64, fallbackName string) (*Session, *Participant, error) {
	s, err := r.getOrHydrate(ctx, documentID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	displayName, avatarRef := fallbackName, ""
	if r.users != nil {
		if dn, av, err := r.users.Lookup(ctx, userID); err == nil {
			displayName, avatarRef = dn, av
		}
		// 查不到身份不算 join 失败，退回连接层给的名字
	}
	if displayName == "" {
		displayName = fmt.Sprintf("user-%d", userID)
	}

	p := &Participant{
		UserID:      userID,
		DisplayName: displayName,
		AvatarRef:   avatarRef,
		Color:       ColorFor(userID),
	}
	s.Upsert(p)
	return s, p, nil
}

func (r *Registry) getOrHydrate(ctx context.Context, documentID, sessionID string) (*Session, error) {
	r.mu.RLock()
	s := r.sessions[documentID]
	r.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	// 同一文档的并发首次 join 合并成一次存储读
	v, err, _ := r.hydrate.Do(documentID, func() (any, error) {
		r.mu.RLock()
		s := r.sessions[documentID]
		r.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		// 悬挂点：读存储时不持 registry 锁
		content, version, err := r.docs.Read(ctx, documentID)
		if err != nil {
			if r.docs.IsNotFound(err) {
				return nil, ErrDocumentNotFound
			}
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if s = r.sessions[documentID]; s == nil {
			s = NewSession(sessionID, documentID, content, version)
			r.sessions[documentID] = s
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Leave 移除参与者；参与者清零时把会话从注册表驱逐。
// 返回会话是否被驱逐。
func (r *Registry) Leave(documentID string, userID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[documentID]
	if s == nil {
		return false
	}
	if s.Remove(userID) == 0 {
		delete(r.sessions, documentID)
		return true
	}
	return false
}

func (r *Registry) Get(documentID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[documentID]
	return s, ok
}

func (r *Registry) ListActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

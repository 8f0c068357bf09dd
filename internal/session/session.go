package session

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// Participant 是一个已连接用户在会话中的在场状态。
// Cursor/Selection 为临时状态：不落库，断开即丢。
type Participant struct {
	UserID      uint64          `json:"userId"`
	DisplayName string          `json:"displayName"`
	AvatarRef   string          `json:"avatarRef,omitempty"`
	Color       string          `json:"color"`
	Cursor      *CursorPosition `json:"cursor,omitempty"`
	Selection   *SelectionRange `json:"selection,omitempty"`
}

// 固定调色板。同一个 userId 必须永远拿到同一个颜色。
var colorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

func ColorFor(userID uint64) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d", userID)
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}

// Session 绑定一个 documentId 的实时协作上下文。
// participants 与 content/version 都归它独占；content/version 只反映
// 已经持久化成功的编辑。
type Session struct {
	ID         string
	DocumentID string
	CreatedAt  time.Time

	mu           sync.RWMutex
	participants map[uint64]*Participant
	content      string
	version      uint64
	updatedAt    time.Time

	// editMu 串行化本文档的全部编辑（含持久化这段悬挂点）。
	editMu sync.Mutex
}

func NewSession(id, documentID, content string, version uint64) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		DocumentID:   documentID,
		CreatedAt:    now,
		participants: make(map[uint64]*Participant),
		content:      content,
		version:      version,
		updatedAt:    now,
	}
}

// LockEdit/UnlockEdit 由编辑处理器持有，覆盖 apply+persist 全程，
// 保证同一文档的并发编辑严格线性化。
func (s *Session) LockEdit()   { s.editMu.Lock() }
func (s *Session) UnlockEdit() { s.editMu.Unlock() }

func (s *Session) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot 返回 content 和 version 的一致读。
func (s *Session) Snapshot() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content, s.version
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Commit 在持久化成功后一次性推进 content/version。
// 只能由持有 edit 锁的调用方使用。
func (s *Session) Commit(content string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
	s.version = version
	s.updatedAt = time.Now()
}

// Upsert 按 userId 放入参与者；重连时替换旧条目而不是追加。
func (s *Session) Upsert(p *Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.UserID] = p
}

// Remove 删除参与者，返回剩余人数。
func (s *Session) Remove(userID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, userID)
	return len(s.participants)
}

func (s *Session) Participant(userID uint64) (*Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[userID]
	return p, ok
}

// Participants 返回参与者副本切片，供广播扇出等只读场景使用。
func (s *Session) Participants() []*Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

func (s *Session) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

func (s *Session) setCursor(userID uint64, pos CursorPosition) (*Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return nil, false
	}
	c := pos
	p.Cursor = &c
	return p, true
}

func (s *Session) setSelection(userID uint64, rng SelectionRange) (*Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return nil, false
	}
	r := rng
	p.Selection = &r
	return p, true
}

// LastCursor 返回参与者最后上报的光标；从未上报时返回文档起点。
func (s *Session) LastCursor(userID uint64) CursorPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.participants[userID]; ok && p.Cursor != nil {
		return *p.Cursor
	}
	return CursorPosition{}
}

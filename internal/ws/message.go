package ws

import (
	"encoding/json"
	"time"

	"github.com/Rupe88/doc-ai-sub002/internal/collab"
	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

// 入站帧：带类型标签的联合，data 按 type 再解。
type ClientMessage struct {
	Type      string          `json:"type"`
	UserID    uint64          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type EditData struct {
	Changes []collab.Change `json:"changes"`
	Version uint64          `json:"version"`
}

type SuggestData struct {
	Context  string                 `json:"context"`
	Position session.CursorPosition `json:"position"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string        { return m.Type }
func (m PresenceMessage) MessageType() string      { return m.Type }
func (m SessionJoinedMessage) MessageType() string { return m.Type }
func (m UserJoinedMessage) MessageType() string    { return m.Type }
func (m EditBroadcastMessage) MessageType() string { return m.Type }
func (m CursorMessage) MessageType() string        { return m.Type }
func (m SelectionMessage) MessageType() string     { return m.Type }
func (m SuggestionMessage) MessageType() string    { return m.Type }

// ServerMessage 轻量通用帧：error / user-left / feedback。
type ServerMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    uint64    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content,omitempty"`
}

// PresenceEntry 心跳应答里的单个在线成员；Cursor 是缓存镜像的原样
// JSON，没有镜像时省略。
type PresenceEntry struct {
	UserID      uint64          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Cursor      json.RawMessage `json:"cursor,omitempty"`
}

// PresenceMessage 心跳应答：续期之后回当前会话的在线成员列表。
type PresenceMessage struct {
	Type      string          `json:"type"` // 固定 "presence"
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Members   []PresenceEntry `json:"members"`
}

// SessionSnapshot join 时回给新成员的完整现状。
// 晚加入者收到的是全量快照，不重放错过的增量。
type SessionSnapshot struct {
	ID           string                 `json:"id"`
	DocumentID   string                 `json:"documentId"`
	Content      string                 `json:"content"`
	Version      uint64                 `json:"version"`
	Participants []*session.Participant `json:"participants"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

type SessionJoinedMessage struct {
	Type      string          `json:"type"` // 固定 "session-joined"
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Session   SessionSnapshot `json:"session"`
}

type UserJoinedMessage struct {
	Type        string               `json:"type"` // 固定 "user-joined"
	SessionID   string               `json:"sessionId"`
	Timestamp   time.Time            `json:"timestamp"`
	Participant *session.Participant `json:"participant"`
}

type EditBroadcastMessage struct {
	Type      string          `json:"type"` // 固定 "edit"
	SessionID string          `json:"sessionId"`
	UserID    uint64          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Changes   []collab.Change `json:"changes"`
	Version   uint64          `json:"version"` // 服务端已应用后的最新版本
}

type CursorMessage struct {
	Type      string                 `json:"type"` // 固定 "cursor"
	SessionID string                 `json:"sessionId"`
	UserID    uint64                 `json:"userId"`
	Timestamp time.Time              `json:"timestamp"`
	Cursor    session.CursorPosition `json:"cursor"`
}

type SelectionMessage struct {
	Type      string                 `json:"type"` // 固定 "selection"
	SessionID string                 `json:"sessionId"`
	UserID    uint64                 `json:"userId"`
	Timestamp time.Time              `json:"timestamp"`
	Selection session.SelectionRange `json:"selection"`
}

type SuggestionMessage struct {
	Type       string                 `json:"type"` // 固定 "ai-suggestion"
	SessionID  string                 `json:"sessionId"`
	UserID     uint64                 `json:"userId"`
	Timestamp  time.Time              `json:"timestamp"`
	Suggestion string                 `json:"suggestion"`
	Position   session.CursorPosition `json:"position"`
}

func NewSnapshot(s *session.Session) SessionSnapshot {
	content, version := s.Snapshot()
	return SessionSnapshot{
		ID:           s.ID,
		DocumentID:   s.DocumentID,
		Content:      content,
		Version:      version,
		Participants: s.Participants(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt(),
	}
}

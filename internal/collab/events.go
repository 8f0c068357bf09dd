package collab

import "time"

// EditEvent 已接受编辑的出站事件，按 documentId 作 key 投递，
// 同一文档保证分区内有序。
type EditEvent struct {
	EventType  string    `json:"eventType"` // 固定 "EDIT_APPLIED"
	SessionID  string    `json:"sessionId"`
	DocumentID string    `json:"documentId"`
	EditID     string    `json:"editId"`
	Version    uint64    `json:"version"`
	UserID     uint64    `json:"userId"`
	Changes    []Change  `json:"changes"`
	AppliedAt  time.Time `json:"appliedAt"`
}

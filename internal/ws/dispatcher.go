package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/Rupe88/doc-ai-sub002/internal/cache"
	"github.com/Rupe88/doc-ai-sub002/internal/collab"
	"github.com/Rupe88/doc-ai-sub002/internal/session"
	"github.com/Rupe88/doc-ai-sub002/internal/suggest"
)

// Dispatcher 给入站帧分类并路由到对应组件。
// 协议错误（未知类型、data 解不开）记日志后忽略，连接保持打开。
type Dispatcher struct {
	editor      *collab.Editor
	tracker     *session.Tracker
	scheduler   *suggest.Scheduler
	hub         *Hub
	presence    cache.PresenceCache
	presenceTTL time.Duration
}

func NewDispatcher(editor *collab.Editor, tracker *session.Tracker, scheduler *suggest.Scheduler, hub *Hub, presence cache.PresenceCache, presenceTTL time.Duration) *Dispatcher {
	if presenceTTL <= 0 {
		presenceTTL = 600 * time.Second
	}
	return &Dispatcher{
		editor:      editor,
		tracker:     tracker,
		scheduler:   scheduler,
		hub:         hub,
		presence:    presence,
		presenceTTL: presenceTTL,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, msg ClientMessage) {
	switch msg.Type {
	case "edit":
		d.handleEdit(ctx, c, msg.Data)
	case "cursor":
		d.handleCursor(ctx, c, msg.Data)
	case "selection":
		d.handleSelection(ctx, c, msg.Data)
	case "ai-suggest":
		d.handleSuggest(c, msg.Data)
	case "heartbeat":
		d.handleHeartbeat(ctx, c)
	default:
		log.Printf("ignore unknown frame type %q (user=%d session=%s)", msg.Type, c.userID, c.sess.ID)
	}
}

func (d *Dispatcher) handleEdit(ctx context.Context, c *Conn, raw json.RawMessage) {
	var data EditData
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("malformed edit frame (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}

	version, err := d.editor.ApplyEdit(ctx, c.sess, c.userID, data.Changes, data.Version)
	if err != nil {
		// 持久化失败/版本冲突只回发起方，其他参与者什么都看不到
		code := "EDIT_FAILED"
		if errors.Is(err, collab.ErrVersionConflict) {
			code = "VERSION_CONFLICT"
		} else if errors.Is(err, collab.ErrInvalidChange) {
			code = "INVALID_CHANGE"
		}
		log.Printf("edit rejected (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		c.SendEnqueue(ServerMessage{Type: "error", SessionID: c.sess.ID, Timestamp: time.Now(), Content: code})
		return
	}

	d.hub.Broadcast(c.sess.ID, EditBroadcastMessage{
		Type:      "edit",
		SessionID: c.sess.ID,
		UserID:    c.userID,
		Timestamp: time.Now(),
		Changes:   data.Changes,
		Version:   version,
	}, c.userID)

	// 成功的编辑喂给建议防抖
	d.scheduler.OnEditActivity(c.sess, c.userID)
}

func (d *Dispatcher) handleCursor(ctx context.Context, c *Conn, raw json.RawMessage) {
	var pos session.CursorPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		log.Printf("malformed cursor frame (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}
	if _, err := d.tracker.UpdateCursor(ctx, c.sess, c.userID, pos); err != nil {
		log.Printf("cursor update skipped (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}
	d.hub.Broadcast(c.sess.ID, CursorMessage{
		Type:      "cursor",
		SessionID: c.sess.ID,
		UserID:    c.userID,
		Timestamp: time.Now(),
		Cursor:    pos,
	}, c.userID)
}

func (d *Dispatcher) handleSelection(ctx context.Context, c *Conn, raw json.RawMessage) {
	var rng session.SelectionRange
	if err := json.Unmarshal(raw, &rng); err != nil {
		log.Printf("malformed selection frame (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}
	if _, err := d.tracker.UpdateSelection(ctx, c.sess, c.userID, rng); err != nil {
		log.Printf("selection update skipped (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}
	d.hub.Broadcast(c.sess.ID, SelectionMessage{
		Type:      "selection",
		SessionID: c.sess.ID,
		UserID:    c.userID,
		Timestamp: time.Now(),
		Selection: rng,
	}, c.userID)
}

func (d *Dispatcher) handleSuggest(c *Conn, raw json.RawMessage) {
	var data SuggestData
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("malformed ai-suggest frame (user=%d session=%s): %v", c.userID, c.sess.ID, err)
		return
	}
	// 显式请求绕过防抖
	d.scheduler.RequestNow(c.sess, c.userID, data.Context, data.Position)
}

// handleHeartbeat 续期后把当前在线成员（含镜像的光标）回给发送方。
func (d *Dispatcher) handleHeartbeat(ctx context.Context, c *Conn) {
	if d.presence == nil {
		c.SendEnqueue(ServerMessage{Type: "feedback", SessionID: c.sess.ID, Timestamp: time.Now(), Content: "heartbeat received"})
		return
	}

	if err := d.presence.AddMember(ctx, c.sess.ID, c.userID, c.username, d.presenceTTL); err != nil {
		log.Printf("presence refresh failed (user=%d session=%s): %v", c.userID, c.sess.ID, err)
	}

	members, err := d.presence.GetAliveMembers(ctx, c.sess.ID)
	if err != nil {
		log.Printf("presence read failed (session=%s): %v", c.sess.ID, err)
		c.SendEnqueue(ServerMessage{Type: "feedback", SessionID: c.sess.ID, Timestamp: time.Now(), Content: "heartbeat received"})
		return
	}

	entries := make([]PresenceEntry, 0, len(members))
	for _, m := range members {
		e := PresenceEntry{UserID: m.UserID, DisplayName: m.DisplayName}
		// 光标镜像是短 TTL 的旁路数据，取不到就不带
		if raw, err := d.presence.GetCursor(ctx, c.sess.ID, m.UserID); err == nil && len(raw) > 0 {
			e.Cursor = json.RawMessage(raw)
		}
		entries = append(entries, e)
	}
	c.SendEnqueue(PresenceMessage{Type: "presence", SessionID: c.sess.ID, Timestamp: time.Now(), Members: entries})
}

// SuggestionPublisher 把调度器的建议发布回会话（含触发者本人）。
func SuggestionPublisher(h *Hub) suggest.PublishFunc {
	return func(s *session.Session, userID uint64, text string, pos session.CursorPosition) {
		h.Broadcast(s.ID, SuggestionMessage{
			Type:       "ai-suggestion",
			SessionID:  s.ID,
			UserID:     userID,
			Timestamp:  time.Now(),
			Suggestion: text,
			Position:   pos,
		}, 0)
	}
}

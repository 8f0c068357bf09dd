package ws

import (
	"log"
	"sync"
)

// Hub 连接注册表 + 广播器。
// (userId, sessionId) 至多一个存活句柄；同对重复注册会替换旧句柄。
type Hub struct {
	mu sync.RWMutex
	// sessionID -> userID -> conn
	conns map[string]map[uint64]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[uint64]*Conn)}
}

// Register 注册句柄，返回被替换下来的旧句柄（没有则 nil）。
func (h *Hub) Register(sessionID string, userID uint64, c *Conn) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[sessionID] == nil {
		h.conns[sessionID] = make(map[uint64]*Conn)
	}
	old := h.conns[sessionID][userID]
	h.conns[sessionID][userID] = c
	return old
}

// Unregister 只在注册的还是这条连接时移除，防止误删替换者。
// 返回是否真的移除了（false 表示句柄已被重连替换）。
func (h *Hub) Unregister(sessionID string, userID uint64, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.conns[sessionID]
	if !ok {
		return false
	}
	removed := false
	if conns[userID] == c {
		delete(conns, userID)
		removed = true
	}
	if len(conns) == 0 {
		delete(h.conns, sessionID)
	}
	return removed
}

// Send 尽力而为：没有存活句柄就丢弃并记日志，不向调用方冒错。
func (h *Hub) Send(sessionID string, userID uint64, msg OutboundMessage) {
	h.mu.RLock()
	c := h.conns[sessionID][userID]
	h.mu.RUnlock()
	if c == nil {
		log.Printf("drop %s: no open handle (session=%s user=%d)", msg.MessageType(), sessionID, userID)
		return
	}
	c.SendEnqueue(msg)
}

// Broadcast 向会话内所有存活句柄扇出；excludeUserID 非零时跳过该用户。
// 不确认不重试，掉线参与者丢消息是可接受的：正确性锚在持久化的
// content/version 上，晚加入者 join 时拿到全量快照。
func (h *Hub) Broadcast(sessionID string, msg OutboundMessage, excludeUserID uint64) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns[sessionID]))
	for uid, c := range h.conns[sessionID] {
		if excludeUserID != 0 && uid == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.SendEnqueue(msg)
	}
}

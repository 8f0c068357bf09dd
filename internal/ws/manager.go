package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Rupe88/doc-ai-sub002/internal/cache"
	"github.com/Rupe88/doc-ai-sub002/internal/session"
	"github.com/Rupe88/doc-ai-sub002/internal/suggest"
)

// 区分性关闭码：缺参数 vs join 失败。
const (
	CloseMissingParams    = 4000
	CloseDocumentNotFound = 4004
	CloseJoinFailed       = 4500
)

// newUpgrader 按来源前缀白名单构造 upgrader；没配置时放行本地开发来源。
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{
			"http://localhost",
			"http://127.0.0.1",
			"https://localhost",
			"https://127.0.0.1",
		}
	}
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" {
			return true
		}
		for _, p := range allowedOrigins {
			if strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}}
}

// Manager 负责握手之后的接线：join、注册句柄、宣告进出、收尾。
type Manager struct {
	hub         *Hub
	registry    *session.Registry
	dispatcher  *Dispatcher
	scheduler   *suggest.Scheduler
	presence    cache.PresenceCache
	presenceTTL time.Duration
	upgrader    websocket.Upgrader
}

func NewManager(hub *Hub, registry *session.Registry, dispatcher *Dispatcher, scheduler *suggest.Scheduler, presence cache.PresenceCache, presenceTTL time.Duration, allowedOrigins []string) *Manager {
	if presenceTTL <= 0 {
		presenceTTL = 600 * time.Second
	}
	return &Manager{
		hub:         hub,
		registry:    registry,
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		presence:    presence,
		presenceTTL: presenceTTL,
		upgrader:    newUpgrader(allowedOrigins),
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// WebSocketConnect 建立一条 (user, session) 双向通道。
// 身份由鉴权中间件写进 gin 上下文；sessionId/documentId 走 query。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	sessionID := c.Query("sessionId")
	documentID := c.Query("documentId")

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	// 缺标识立即关通道，区分性关闭码
	if sessionID == "" || documentID == "" {
		closeWith(conn, CloseMissingParams, "missing sessionId or documentId")
		return
	}

	ctx := c.Request.Context()
	sess, participant, err := m.registry.Join(ctx, documentID, sessionID, userID, username)
	if err != nil {
		if errors.Is(err, session.ErrDocumentNotFound) {
			closeWith(conn, CloseDocumentNotFound, "document not found")
		} else {
			log.Printf("join failed (user=%d doc=%s): %v", userID, documentID, err)
			closeWith(conn, CloseJoinFailed, "join failed")
		}
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, sess, userID, username)
	if old := m.hub.Register(sess.ID, userID, wsConn); old != nil {
		// 同对重复注册：替换并踢掉旧句柄
		_ = old.ws.Close()
	}

	if m.presence != nil {
		if err := m.presence.AddMember(ctx, sess.ID, userID, participant.DisplayName, m.presenceTTL); err != nil {
			log.Printf("presence add failed (user=%d session=%s): %v", userID, sess.ID, err)
		}
	}

	// 先起写循环，保证后面入队的消息能被发出去
	go wsConn.writeLoop()

	// 新成员拿全量快照，其他人收 user-joined
	wsConn.SendEnqueue(SessionJoinedMessage{
		Type:      "session-joined",
		SessionID: sess.ID,
		Timestamp: time.Now(),
		Session:   NewSnapshot(sess),
	})
	m.hub.Broadcast(sess.ID, UserJoinedMessage{
		Type:        "user-joined",
		SessionID:   sess.ID,
		Timestamp:   time.Now(),
		Participant: participant,
	}, userID)

	// 阻塞到连接关闭
	wsConn.readLoop(ctx, m.dispatcher)

	m.teardown(sess, wsConn)
}

func (m *Manager) teardown(sess *session.Session, c *Conn) {
	// 先出注册表再关出站队列：之后打进来的广播在 SendEnqueue 里
	// 看到 closed 标记被安全丢弃，不会砸在已关闭的通道上。
	removed := m.hub.Unregister(sess.ID, c.userID, c)
	c.CloseSend()
	if !removed {
		// 句柄已被同用户的重连替换，参与者归新连接所有
		return
	}
	m.scheduler.Cancel(sess.ID, c.userID)

	evicted := m.registry.Leave(sess.DocumentID, c.userID)
	if m.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.presence.RemoveMember(ctx, sess.ID, c.userID); err != nil {
			log.Printf("presence remove failed (user=%d session=%s): %v", c.userID, sess.ID, err)
		}
	}
	if !evicted {
		m.hub.Broadcast(sess.ID, ServerMessage{
			Type:      "user-left",
			SessionID: sess.ID,
			UserID:    c.userID,
			Timestamp: time.Now(),
		}, c.userID)
	}
}

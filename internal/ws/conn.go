package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

// socket 是传输句柄的最小面；*websocket.Conn 天然满足。
type socket interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Conn 单个 (user, session) 的传输句柄。
type Conn struct {
	ws       socket
	hub      *Hub
	sess     *session.Session
	userID   uint64
	username string

	// mu 保护 closed 与 send 的入队/关闭：读循环退出到 teardown
	// 完成之间仍可能有并发广播打进来，不能裸关通道。
	mu     sync.Mutex
	closed bool
	send   chan OutboundMessage
}

func NewConn(ws socket, hub *Hub, sess *session.Session, userID uint64, username string) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		sess:     sess,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
	}
}

// SendEnqueue 入队出站消息；队列满了或已关闭直接丢（临时消息不保送达）。
func (c *Conn) SendEnqueue(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		log.Printf("send queue closed, drop %s (session=%s user=%d)", msg.MessageType(), c.sess.ID, c.userID)
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("send queue full, drop %s (session=%s user=%d)", msg.MessageType(), c.sess.ID, c.userID)
	}
}

// CloseSend 关闭出站队列并终止 writeLoop；重复调用是 no-op。
// 只能在连接收尾时调用。
func (c *Conn) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readLoop 逐帧读入并交给 dispatcher。单条坏帧/失败帧绝不终止
// 连接，只有读错误（对端关闭）才退出。出站队列由 teardown 负责关，
// 这里不能关：并发广播可能还拿着这条连接。
func (c *Conn) readLoop(ctx context.Context, d *Dispatcher) {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read frame error (user=%d session=%s): %v", c.userID, c.sess.ID, err)
			return
		}
		d.Dispatch(ctx, c, msg)
	}
}

// writeLoop 持续消费 send 通道直到关闭。
func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

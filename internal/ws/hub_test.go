package ws

import (
	"errors"
	"testing"
	"time"

	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

type fakeSocket struct{ closed bool }

func (f *fakeSocket) ReadJSON(v interface{}) error { return errors.New("closed") }
func (f *fakeSocket) WriteJSON(v interface{}) error { return nil }
func (f *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}
func (f *fakeSocket) Close() error { f.closed = true; return nil }

func newTestConn(h *Hub, s *session.Session, userID uint64) *Conn {
	return NewConn(&fakeSocket{}, h, s, userID, "tester")
}

func recv(t *testing.T, c *Conn, d time.Duration) OutboundMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(d):
		t.Fatalf("no message within %v", d)
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %q", msg.MessageType())
	default:
	}
}

func TestHub_RegisterReplacesHandle(t *testing.T) {
	h := NewHub()
	s := session.NewSession("s1", "d1", "", 0)
	c1 := newTestConn(h, s, 1)
	c2 := newTestConn(h, s, 1)

	if old := h.Register("s1", 1, c1); old != nil {
		t.Fatalf("first Register returned old handle")
	}
	// 同 (user, session) 再注册：替换
	if old := h.Register("s1", 1, c2); old != c1 {
		t.Fatalf("second Register did not return replaced handle")
	}

	h.Send("s1", 1, ServerMessage{Type: "ping"})
	if got := recv(t, c2, time.Second).MessageType(); got != "ping" {
		t.Fatalf("message type = %q, want ping", got)
	}
	assertNoMessage(t, c1)
}

func TestHub_UnregisterOnlyCurrent(t *testing.T) {
	h := NewHub()
	s := session.NewSession("s1", "d1", "", 0)
	c1 := newTestConn(h, s, 1)
	c2 := newTestConn(h, s, 1)

	h.Register("s1", 1, c1)
	h.Register("s1", 1, c2)

	// 被替换的旧句柄注销是 no-op
	if h.Unregister("s1", 1, c1) {
		t.Fatalf("stale handle unregistered the replacement")
	}
	h.Send("s1", 1, ServerMessage{Type: "still-there"})
	if got := recv(t, c2, time.Second).MessageType(); got != "still-there" {
		t.Fatalf("replacement handle lost after stale unregister")
	}

	if !h.Unregister("s1", 1, c2) {
		t.Fatalf("current handle not unregistered")
	}
}

func TestHub_SendWithoutHandleDrops(t *testing.T) {
	h := NewHub()
	// 没有句柄：丢弃，不 panic 不报错
	h.Send("nope", 42, ServerMessage{Type: "ghost"})
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	s := session.NewSession("s1", "d1", "", 0)
	c1 := newTestConn(h, s, 1)
	c2 := newTestConn(h, s, 2)
	c3 := newTestConn(h, s, 3)
	h.Register("s1", 1, c1)
	h.Register("s1", 2, c2)
	h.Register("s1", 3, c3)

	h.Broadcast("s1", ServerMessage{Type: "note"}, 1)

	if got := recv(t, c2, time.Second).MessageType(); got != "note" {
		t.Fatalf("c2 message = %q, want note", got)
	}
	if got := recv(t, c3, time.Second).MessageType(); got != "note" {
		t.Fatalf("c3 message = %q, want note", got)
	}
	assertNoMessage(t, c1)

	// excludeUserID=0 表示不排除任何人
	h.Broadcast("s1", ServerMessage{Type: "all"}, 0)
	if got := recv(t, c1, time.Second).MessageType(); got != "all" {
		t.Fatalf("c1 message = %q, want all", got)
	}
}

func TestHub_BroadcastIntoClosingConnDoesNotPanic(t *testing.T) {
	h := NewHub()
	s := session.NewSession("s1", "d1", "", 0)
	c1 := newTestConn(h, s, 1)
	c2 := newTestConn(h, s, 2)
	h.Register("s1", 1, c1)
	h.Register("s1", 2, c2)

	// c1 的读循环已经退出、收尾还没跑完：出站队列先关，句柄还在注册表里
	c1.CloseSend()
	c1.CloseSend() // 重复关闭是 no-op

	h.Broadcast("s1", ServerMessage{Type: "note"}, 0)

	// 广播照常送达其他人，c1 安静丢弃，进程不死
	if got := recv(t, c2, time.Second).MessageType(); got != "note" {
		t.Fatalf("c2 message = %q, want note", got)
	}

	h.Send("s1", 1, ServerMessage{Type: "direct"})
}

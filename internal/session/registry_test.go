package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDocs struct {
	mu    sync.Mutex
	docs  map[string]string
	reads int
	delay time.Duration
}

var errNotFound = errors.New("not found")

func (f *fakeDocs) Read(ctx context.Context, documentID string) (string, uint64, error) {
	f.mu.Lock()
	f.reads++
	content, ok := f.docs[documentID]
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return "", 0, errNotFound
	}
	return content, 1, nil
}

func (f *fakeDocs) IsNotFound(err error) bool { return errors.Is(err, errNotFound) }

type fakeUsers struct{ names map[uint64]string }

func (f *fakeUsers) Lookup(ctx context.Context, userID uint64) (string, string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", "", errNotFound
	}
	return name, "avatar://" + name, nil
}

func newTestRegistry() (*Registry, *fakeDocs) {
	docs := &fakeDocs{docs: map[string]string{"d1": "abc"}}
	users := &fakeUsers{names: map[uint64]string{1: "alice", 2: "bob"}}
	return NewRegistry(docs, users), docs
}

func TestJoin_HydratesFromStorage(t *testing.T) {
	r, docs := newTestRegistry()

	s, p, err := r.Join(context.Background(), "d1", "s1", 1, "")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got, v := s.Snapshot(); got != "abc" || v != 1 {
		t.Fatalf("snapshot = %q/%d, want abc/1", got, v)
	}
	if p.DisplayName != "alice" {
		t.Fatalf("displayName = %q, want alice", p.DisplayName)
	}
	if p.Color == "" {
		t.Fatalf("participant has no color")
	}
	if docs.reads != 1 {
		t.Fatalf("storage reads = %d, want 1", docs.reads)
	}

	// 第二个用户复用内存会话，不再读存储
	if _, _, err := r.Join(context.Background(), "d1", "s1", 2, ""); err != nil {
		t.Fatalf("second Join() error = %v", err)
	}
	if docs.reads != 1 {
		t.Fatalf("storage reads = %d after reuse, want 1", docs.reads)
	}
	if got := s.ParticipantCount(); got != 2 {
		t.Fatalf("participants = %d, want 2", got)
	}
}

func TestJoin_DocumentNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	_, _, err := r.Join(context.Background(), "missing", "s1", 1, "")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestJoin_RejoinReplacesParticipant(t *testing.T) {
	r, _ := newTestRegistry()
	s, p1, _ := r.Join(context.Background(), "d1", "s1", 1, "")
	p1.Cursor = &CursorPosition{Line: 3, Column: 7}

	_, p2, err := r.Join(context.Background(), "d1", "s1", 1, "")
	if err != nil {
		t.Fatalf("rejoin error = %v", err)
	}
	if got := s.ParticipantCount(); got != 1 {
		t.Fatalf("participants = %d after rejoin, want 1", got)
	}
	cur, _ := s.Participant(1)
	if cur != p2 {
		t.Fatalf("rejoin did not replace participant entry")
	}
	if cur.Cursor != nil {
		t.Fatalf("ephemeral cursor survived rejoin")
	}
}

func TestLeave_EvictsWhenEmpty(t *testing.T) {
	r, docs := newTestRegistry()
	r.Join(context.Background(), "d1", "s1", 1, "")
	r.Join(context.Background(), "d1", "s1", 2, "")

	if evicted := r.Leave("d1", 1); evicted {
		t.Fatalf("evicted while occupied")
	}
	if _, ok := r.Get("d1"); !ok {
		t.Fatalf("session gone while occupied")
	}

	if evicted := r.Leave("d1", 2); !evicted {
		t.Fatalf("not evicted on empty participant set")
	}
	if _, ok := r.Get("d1"); ok {
		t.Fatalf("session retrievable after eviction")
	}
	if got := len(r.ListActive()); got != 0 {
		t.Fatalf("ListActive() = %d, want 0", got)
	}

	// 再次 join 重新水合
	s, _, err := r.Join(context.Background(), "d1", "s1", 1, "")
	if err != nil {
		t.Fatalf("re-join error = %v", err)
	}
	if got, _ := s.Snapshot(); got != "abc" {
		t.Fatalf("re-hydrated content = %q, want abc", got)
	}
	if docs.reads != 2 {
		t.Fatalf("storage reads = %d, want 2", docs.reads)
	}
}

func TestJoin_ConcurrentFirstJoinsReadStorageOnce(t *testing.T) {
	r, docs := newTestRegistry()
	docs.delay = 50 * time.Millisecond

	const joiners = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	sessions := make([]*Session, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			s, _, err := r.Join(context.Background(), "d1", "s1", uint64(i+1), "")
			if err != nil {
				t.Errorf("Join() error = %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	close(start)
	wg.Wait()

	// 并发首次 join 合并成一次存储读，所有人拿到同一个会话
	if docs.reads != 1 {
		t.Fatalf("storage reads = %d, want 1", docs.reads)
	}
	for i := 1; i < joiners; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("joiner %d got a different session instance", i)
		}
	}
	if got := sessions[0].ParticipantCount(); got != joiners {
		t.Fatalf("participants = %d, want %d", got, joiners)
	}
}

func TestColorFor_Deterministic(t *testing.T) {
	if ColorFor(42) != ColorFor(42) {
		t.Fatalf("color not stable for same userId")
	}
}

func TestJoin_FallbackDisplayName(t *testing.T) {
	r, _ := newTestRegistry()
	_, p, err := r.Join(context.Background(), "d1", "s1", 99, "charlie")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	// 身份查不到时退回连接层给的名字
	if p.DisplayName != "charlie" {
		t.Fatalf("displayName = %q, want charlie", p.DisplayName)
	}
}

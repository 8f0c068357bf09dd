package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

type memDocs struct {
	mu       sync.Mutex
	content  map[string]string
	version  map[string]uint64
	failNext bool
	writes   int
}

func newMemDocs() *memDocs {
	return &memDocs{content: make(map[string]string), version: make(map[string]uint64)}
}

func (m *memDocs) Write(ctx context.Context, documentID, content string, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("storage down")
	}
	m.content[documentID] = content
	m.version[documentID] = version
	m.writes++
	return nil
}

type memSnapshots struct {
	mu   sync.Mutex
	rows []string
}

func (m *memSnapshots) SaveDocumentSnapshot(ctx context.Context, documentID string, rev uint64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, fmt.Sprintf("%s/%d", documentID, rev))
	return nil
}

func TestApplyEdit_VersionAndContent(t *testing.T) {
	docs := newMemDocs()
	snaps := &memSnapshots{}
	e := NewEditor(docs, snaps, nil, PolicyLastWriterWins)
	s := session.NewSession("s1", "d1", "abc", 1)

	v, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeInsert, From: 1, Text: "X"},
	}, 1)
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
	if got := s.Content(); got != "aXbc" {
		t.Fatalf("content = %q, want %q", got, "aXbc")
	}
	if docs.content["d1"] != "aXbc" || docs.version["d1"] != 2 {
		t.Fatalf("persisted = %q/%d, want aXbc/2", docs.content["d1"], docs.version["d1"])
	}
	if len(snaps.rows) != 1 || snaps.rows[0] != "d1/2" {
		t.Fatalf("snapshots = %v, want [d1/2]", snaps.rows)
	}
}

func TestApplyEdit_DescendingOffsetBatch(t *testing.T) {
	docs := newMemDocs()
	e := NewEditor(docs, nil, nil, PolicyLastWriterWins)
	s := session.NewSession("s1", "d1", "hello world", 1)

	// 同一批内按降序偏移应用：低偏移的操作不被高偏移的影响
	_, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeInsert, From: 0, Text: ">> "},
		{Type: ChangeDelete, From: 5, To: 11},
		{Type: ChangeInsert, From: 11, Text: "!"},
	}, 1)
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if got := s.Content(); got != ">> hello!" {
		t.Fatalf("content = %q, want %q", got, ">> hello!")
	}
}

func TestApplyEdit_PersistFailureLeavesSessionUntouched(t *testing.T) {
	docs := newMemDocs()
	e := NewEditor(docs, nil, nil, PolicyLastWriterWins)
	s := session.NewSession("s1", "d1", "abc", 1)

	docs.failNext = true
	_, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeInsert, From: 0, Text: "X"},
	}, 1)
	if err == nil {
		t.Fatalf("ApplyEdit() error = nil, want persist failure")
	}
	if got := s.Content(); got != "abc" {
		t.Fatalf("content mutated to %q after failed persist", got)
	}
	if got := s.Version(); got != 1 {
		t.Fatalf("version advanced to %d after failed persist", got)
	}
}

func TestApplyEdit_InvalidChange(t *testing.T) {
	e := NewEditor(newMemDocs(), nil, nil, PolicyLastWriterWins)
	s := session.NewSession("s1", "d1", "abc", 1)

	_, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeDelete, From: 1, To: 99},
	}, 1)
	if !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("err = %v, want ErrInvalidChange", err)
	}
}

func TestApplyEdit_RejectStalePolicy(t *testing.T) {
	e := NewEditor(newMemDocs(), nil, nil, PolicyRejectStale)
	s := session.NewSession("s1", "d1", "abc", 5)

	if _, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeInsert, From: 0, Text: "X"},
	}, 4); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale base: err = %v, want ErrVersionConflict", err)
	}

	v, err := e.ApplyEdit(context.Background(), s, 7, []Change{
		{Type: ChangeInsert, From: 0, Text: "X"},
	}, 5)
	if err != nil {
		t.Fatalf("matching base: error = %v", err)
	}
	if v != 6 {
		t.Fatalf("version = %d, want 6", v)
	}
}

// 并发压力：同一会话的并发编辑必须严格线性化，
// 每接受一次版本恰好 +1，不丢更新不跳号。
func TestApplyEdit_ConcurrentEditsLinearized(t *testing.T) {
	docs := newMemDocs()
	e := NewEditor(docs, nil, nil, PolicyLastWriterWins)
	s := session.NewSession("s1", "d1", "", 0)

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := e.ApplyEdit(context.Background(), s, id, []Change{
					{Type: ChangeInsert, From: 0, Text: "x"},
				}, 0); err != nil {
					t.Errorf("ApplyEdit() error = %v", err)
					return
				}
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	want := uint64(writers * perWriter)
	if got := s.Version(); got != want {
		t.Fatalf("version = %d, want %d", got, want)
	}
	if got := len(s.Content()); got != int(want) {
		t.Fatalf("content length = %d, want %d", got, want)
	}
	if docs.version["d1"] != want {
		t.Fatalf("persisted version = %d, want %d", docs.version["d1"], want)
	}
	if docs.writes != int(want) {
		t.Fatalf("persist calls = %d, want %d", docs.writes, want)
	}
}

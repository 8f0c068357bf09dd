package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeDelete ChangeKind = "delete"
)

// Change 一条编辑操作。insert 在 From 处插入 Text；
// delete 删除 [From, To) 区间。
type Change struct {
	Type ChangeKind `json:"type"`
	From int        `json:"from"`
	To   int        `json:"to,omitempty"`
	Text string     `json:"text,omitempty"`
}

// ConflictPolicy 版本冲突策略（显式配置，不再隐式吞掉冲突）。
type ConflictPolicy string

const (
	// PolicyLastWriterWins 服务端权威：不管客户端声明的基准版本，
	// 新版本永远是当前版本 +1。
	PolicyLastWriterWins ConflictPolicy = "last-writer-wins"
	// PolicyRejectStale 客户端基准版本不等于当前版本时直接拒绝。
	PolicyRejectStale ConflictPolicy = "reject-stale"
)

var (
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
	ErrInvalidChange   = errors.New("INVALID_CHANGE")
)

// DocumentWriter 只声明，实现在 store 中。
type DocumentWriter interface {
	Write(ctx context.Context, documentID, content string, version uint64) error
}

// SnapshotAppender 追加 (document, version, content) 快照行。
type SnapshotAppender interface {
	SaveDocumentSnapshot(ctx context.Context, documentID string, version uint64, content string) error
}

// EventSink 已接受编辑的事件出口（Kafka 派发器），尽力而为。
type EventSink interface {
	Enqueue(ctx context.Context, evt EditEvent) error
}

// Editor 编辑处理器。每个会话的 apply+persist 临界区由会话的
// edit 锁串行化：同一文档的并发编辑严格按到达顺序应用，版本号
// 每接受一次恰好 +1。
type Editor struct {
	docs      DocumentWriter
	snapshots SnapshotAppender
	events    EventSink
	policy    ConflictPolicy
}

func NewEditor(docs DocumentWriter, snapshots SnapshotAppender, events EventSink, policy ConflictPolicy) *Editor {
	if policy == "" {
		policy = PolicyLastWriterWins
	}
	return &Editor{docs: docs, snapshots: snapshots, events: events, policy: policy}
}

func (e *Editor) Policy() ConflictPolicy { return e.policy }

// ApplyEdit 把一批操作按降序偏移应用到会话内容上，先持久化再提交。
// 持久化失败时内存内容不动，错误只回给发起方。
func (e *Editor) ApplyEdit(ctx context.Context, s *session.Session, userID uint64, changes []Change, claimedVersion uint64) (uint64, error) {
	s.LockEdit()
	defer s.UnlockEdit()

	content, version := s.Snapshot()

	if e.policy == PolicyRejectStale && claimedVersion != version {
		return 0, fmt.Errorf("%w: claimed=%d current=%d", ErrVersionConflict, claimedVersion, version)
	}

	next, err := applyChanges(content, changes)
	if err != nil {
		return 0, err
	}
	newVersion := version + 1

	// 悬挂点：写穿存储。edit 锁横跨这里，后续编辑必须等本次落盘。
	if err := e.docs.Write(ctx, s.DocumentID, next, newVersion); err != nil {
		return 0, fmt.Errorf("persist edit: %w", err)
	}
	if e.snapshots != nil {
		if err := e.snapshots.SaveDocumentSnapshot(ctx, s.DocumentID, newVersion, next); err != nil {
			// 快照是旁路，失败不回滚主写
			log.Printf("save snapshot failed (doc=%s rev=%d): %v", s.DocumentID, newVersion, err)
		}
	}

	s.Commit(next, newVersion)
	e.publish(ctx, s, userID, changes, newVersion)
	return newVersion, nil
}

// applyChanges 同一批内按 From 降序应用，前面的操作不受后面影响。
func applyChanges(content string, changes []Change) (string, error) {
	if len(changes) == 0 {
		return content, nil
	}

	pt := NewPieceTable(content)
	sorted := make([]Change, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].From > sorted[j].From })

	for _, ch := range sorted {
		switch ch.Type {
		case ChangeInsert:
			if ch.From < 0 || ch.From > pt.Len() {
				return "", fmt.Errorf("%w: insert at %d, len %d", ErrInvalidChange, ch.From, pt.Len())
			}
			pt.Insert(ch.From, ch.Text)
		case ChangeDelete:
			if ch.From < 0 || ch.To < ch.From || ch.To > pt.Len() {
				return "", fmt.Errorf("%w: delete [%d,%d), len %d", ErrInvalidChange, ch.From, ch.To, pt.Len())
			}
			pt.Delete(ch.From, ch.To-ch.From)
		default:
			return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, ch.Type)
		}
	}
	return pt.String(), nil
}

func (e *Editor) publish(ctx context.Context, s *session.Session, userID uint64, changes []Change, version uint64) {
	if e.events == nil {
		return
	}
	evt := EditEvent{
		EventType:  "EDIT_APPLIED",
		SessionID:  s.ID,
		DocumentID: s.DocumentID,
		EditID:     uuid.NewString(),
		Version:    version,
		UserID:     userID,
		Changes:    changes,
		AppliedAt:  time.Now(),
	}
	// 入队即返回，队列满或 ctx 到期都算丢弃
	_ = e.events.Enqueue(ctx, evt)
}

package suggest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Rupe88/doc-ai-sub002/internal/collab"
	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

// Completion 外部补全协作方。
type Completion interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PublishFunc 把补全建议广播给会话全体参与者（含触发者本人）。
type PublishFunc func(s *session.Session, userID uint64, suggestion string, pos session.CursorPosition)

type Options struct {
	Debounce     time.Duration // 静默窗口
	ContextLines int           // 光标上下各取多少行
	Timeout      time.Duration // 单次补全调用上限
}

// Scheduler 按 (session, user) 维护防抖定时器：新的编辑活动重置
// 定时器，每对至多一个待触发任务。到期后拿参与者最后的光标，裁出
// 上下文窗口去请求补全。补全失败只记日志，绝不打扰任何连接。
type Scheduler struct {
	completion Completion
	publish    PublishFunc
	sem        *collab.SemaphoreControl
	opt        Options

	mu     sync.Mutex
	timers map[string]*pending
}

type pending struct {
	timer *time.Timer
	seq   uint64 // 过期回调用来识别自己是否已被重置
}

func NewScheduler(completion Completion, publish PublishFunc, sem *collab.SemaphoreControl, opt Options) *Scheduler {
	if opt.Debounce <= 0 {
		opt.Debounce = 2 * time.Second
	}
	if opt.ContextLines <= 0 {
		opt.ContextLines = 10
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	return &Scheduler{
		completion: completion,
		publish:    publish,
		sem:        sem,
		opt:        opt,
		timers:     make(map[string]*pending),
	}
}

func pairKey(sessionID string, userID uint64) string {
	return fmt.Sprintf("%s:%d", sessionID, userID)
}

// OnEditActivity （重新）启动该对的静默定时器。
func (sc *Scheduler) OnEditActivity(s *session.Session, userID uint64) {
	key := pairKey(s.ID, userID)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	p := sc.timers[key]
	if p == nil {
		p = &pending{}
		sc.timers[key] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.seq++
	cur := p.seq

	p.timer = time.AfterFunc(sc.opt.Debounce, func() {
		sc.mu.Lock()
		if sc.timers[key] != p || p.seq != cur {
			// 已被更新的活动重置或取消
			sc.mu.Unlock()
			return
		}
		delete(sc.timers, key)
		sc.mu.Unlock()
		sc.trigger(s, userID, "", s.LastCursor(userID))
	})
}

// RequestNow 绕过防抖直接请求。contextText 为空时用会话内容裁窗。
func (sc *Scheduler) RequestNow(s *session.Session, userID uint64, contextText string, pos session.CursorPosition) {
	sc.Cancel(s.ID, userID)
	go sc.trigger(s, userID, contextText, pos)
}

// Cancel 撤掉该对的待触发任务（用户离开/断开时调用）。
func (sc *Scheduler) Cancel(sessionID string, userID uint64) {
	key := pairKey(sessionID, userID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if p := sc.timers[key]; p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.seq++
		delete(sc.timers, key)
	}
}

// PendingCount 仅供观测与测试。
func (sc *Scheduler) PendingCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.timers)
}

func (sc *Scheduler) trigger(s *session.Session, userID uint64, contextText string, pos session.CursorPosition) {
	if sc.completion == nil {
		return
	}
	if contextText == "" {
		contextText = ContextWindow(s.Content(), pos, sc.opt.ContextLines)
	}
	if strings.TrimSpace(contextText) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.opt.Timeout)
	defer cancel()

	if sc.sem != nil {
		if err := sc.sem.Acquire(ctx); err != nil {
			log.Printf("suggestion skipped, semaphore busy (session=%s user=%d): %v", s.ID, userID, err)
			return
		}
		defer sc.sem.Release()
	}

	text, err := sc.completion.Complete(ctx, contextText)
	if err != nil {
		// 补全失败吞掉：记日志，不广播，不打断连接
		log.Printf("completion failed (session=%s user=%d): %v", s.ID, userID, err)
		return
	}
	if text == "" {
		return
	}
	if sc.publish != nil {
		sc.publish(s, userID, text, pos)
	}
}

// ContextWindow 取光标行上下各 n 行。
func ContextWindow(content string, pos session.CursorPosition, n int) string {
	lines := strings.Split(content, "\n")
	line := pos.Line
	if line < 0 {
		line = 0
	}
	if line >= len(lines) {
		line = len(lines) - 1
	}
	lo := line - n
	if lo < 0 {
		lo = 0
	}
	hi := line + n + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}

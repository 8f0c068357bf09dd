package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// CursorCache 把光标镜像到外部缓存（短 TTL），只做尽力而为。
type CursorCache interface {
	SetCursor(ctx context.Context, sessionID string, userID uint64, jsonData []byte, ttl time.Duration) error
}

// Tracker 负责参与者光标/选区的临时状态。
// 唯一的一致性策略是 last-write-wins，重复上报是幂等的。
type Tracker struct {
	cache     CursorCache
	cursorTTL time.Duration
}

func NewTracker(cache CursorCache, cursorTTL time.Duration) *Tracker {
	if cursorTTL <= 0 {
		cursorTTL = 60 * time.Second
	}
	return &Tracker{cache: cache, cursorTTL: cursorTTL}
}

var ErrNotParticipant = errors.New("NOT_A_PARTICIPANT")

func (t *Tracker) UpdateCursor(ctx context.Context, s *Session, userID uint64, pos CursorPosition) (*Participant, error) {
	p, ok := s.setCursor(userID, pos)
	if !ok {
		return nil, ErrNotParticipant
	}
	t.mirrorCursor(ctx, s.ID, userID, pos)
	return p, nil
}

func (t *Tracker) UpdateSelection(ctx context.Context, s *Session, userID uint64, rng SelectionRange) (*Participant, error) {
	p, ok := s.setSelection(userID, rng)
	if !ok {
		return nil, ErrNotParticipant
	}
	return p, nil
}

func (t *Tracker) mirrorCursor(ctx context.Context, sessionID string, userID uint64, pos CursorPosition) {
	if t.cache == nil {
		return
	}
	b, err := json.Marshal(pos)
	if err != nil {
		return
	}
	if err := t.cache.SetCursor(ctx, sessionID, userID, b, t.cursorTTL); err != nil {
		log.Printf("mirror cursor failed (session=%s user=%d): %v", sessionID, userID, err)
	}
}

package collab

import (
	"context"
	"errors"
)

// SemaphoreControl 有界信号量，给外部调用（Kafka 发送、AI 补全）限并发。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(max int) *SemaphoreControl {
	if max <= 0 {
		max = 100
	}
	return &SemaphoreControl{ch: make(chan struct{}, max)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("release without acquire")
	}
}

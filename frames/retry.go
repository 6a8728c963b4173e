package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
)

// RetryPolicy 重连策略
type RetryPolicy struct {
	MaxAttempts int           // 连续失败次数上限，0表示不限
	Backoff     time.Duration // 两次尝试之间的等待
}

// Do 执行 fn 直到成功、次数用尽或 ctx 取消
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; p.MaxAttempts <= 0 || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	return fmt.Errorf("%w (%d 次): %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

// Opener 打开一个新的输入源
type Opener func(ctx context.Context) (Source, error)

// ReconnectingSource 输入源断开后按策略重新打开
type ReconnectingSource struct {
	log    logs.Log
	open   Opener
	policy RetryPolicy
	cur    Source
}

// NewReconnectingSource 创建自动重连的输入源，第一次打开发生在第一次 Next
func NewReconnectingSource(log logs.Log, open Opener, policy RetryPolicy) *ReconnectingSource {
	return &ReconnectingSource{
		log:    log,
		open:   open,
		policy: policy,
	}
}

// Next 读取一帧，打开或读取失败都计为一次失败
func (s *ReconnectingSource) Next(ctx context.Context) (image.Image, error) {
	var img image.Image
	attempt := 0
	err := s.policy.Do(ctx, func() error {
		attempt++
		if attempt > 1 {
			s.log.Infof("正在重连摄像头 (第 %d 次)", attempt-1)
		}
		if s.cur == nil {
			src, err := s.open(ctx)
			if err != nil {
				s.log.Warnf("打开摄像头失败: %v", err)
				return err
			}
			s.cur = src
		}

		var err error
		img, err = s.cur.Next(ctx)
		if err != nil {
			s.cur.Close()
			s.cur = nil
			if ctx.Err() == nil {
				s.log.Warnf("摄像头读取失败: %v", err)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *ReconnectingSource) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/Cubiaa/obstacle-detect/frames"
	"github.com/cyclopcam/logs"
)

// FrameWriter 接收检测结果图像（如视频输出）
type FrameWriter interface {
	WriteFrame(img image.Image) error
	Close() error
}

// Runner 检测循环：读取、处理、输出，直到输入结束或 ctx 取消
type Runner struct {
	Log      logs.Log
	Detector Detector
	MaxSide  int
	Writer   FrameWriter   // 可选，循环结束时关闭
	Interval time.Duration // 两帧之间的间隔，0表示不等待

	// SkipDecodeErrors 为 true 时跳过无法解码的帧（文件夹模式），否则结束循环
	SkipDecodeErrors bool
	// OnSkip 跳过一帧时调用
	OnSkip func(label string, err error)
}

// Run 执行检测循环，返回已处理的帧数
// ctx 在每一帧开始前检查；已经开始处理的帧会完成并交给 emit
func (r *Runner) Run(ctx context.Context, src frames.Source, emit func(*Frame)) (int, error) {
	if r.Writer != nil {
		defer func() {
			if err := r.Writer.Close(); err != nil {
				r.Log.Errorf("关闭视频输出失败: %v", err)
			}
		}()
	}

	total := frames.Total(src)
	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, nil
		}

		img, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return processed, nil
			case ctx.Err() != nil:
				return processed, nil
			case r.SkipDecodeErrors && errors.Is(err, frames.ErrDecode):
				r.skip(frames.Label(src), err)
				continue
			}
			return processed, err
		}

		frame, err := Process(r.Detector, img, r.MaxSide)
		if err != nil {
			return processed, err
		}
		processed++
		frame.Index = processed
		frame.Total = total
		frame.Label = frames.Label(src)

		if r.Writer != nil {
			if err := r.Writer.WriteFrame(frame.Annotated); err != nil {
				return processed, fmt.Errorf("写入视频失败: %w", err)
			}
		}
		emit(frame)

		if r.Interval > 0 && !sleepContext(ctx, r.Interval) {
			return processed, nil
		}
	}
}

func (r *Runner) skip(label string, err error) {
	r.Log.Warnf("跳过 %s: %v", label, err)
	if r.OnSkip != nil {
		r.OnSkip(label, err)
	}
}

// sleepContext 等待 d，ctx 取消时返回 false
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

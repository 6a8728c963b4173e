// Package frames 提供检测循环使用的帧来源（图片、文件夹、视频、摄像头）和视频输出
package frames

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrSourceUnavailable 输入源无法打开或已断开
	ErrSourceUnavailable = errors.New("输入源不可用")
	// ErrDecode 帧解码失败
	ErrDecode = errors.New("帧解码失败")
	// ErrRetriesExhausted 重连次数用尽
	ErrRetriesExhausted = errors.New("重连次数已用尽")
)

// Source 按顺序产生帧，结束时返回 io.EOF
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Counted 可以预知总帧数的输入源
type Counted interface {
	Total() int
}

// Labeled 可以描述最近一帧来源的输入源（如文件名）
type Labeled interface {
	Label() string
}

// Total 输入源总帧数，未知时返回0
func Total(src Source) int {
	if c, ok := src.(Counted); ok {
		return c.Total()
	}
	return 0
}

// Label 最近一帧的描述，不支持时返回空字符串
func Label(src Source) string {
	if l, ok := src.(Labeled); ok {
		return l.Label()
	}
	return ""
}

// Package pipeline 把一帧图像变成显示用的原图、检测结果图和类别计数
package pipeline

import (
	"fmt"
	"image"

	"github.com/Cubiaa/obstacle-detect/yolo"
	"github.com/disintegration/imaging"
)

// DefaultMaxSide 推理前图像长边上限
const DefaultMaxSide = 1280

// Detector 单帧推理
type Detector interface {
	Detect(img image.Image) (*yolo.DetectionResult, error)
}

// Frame 一帧的处理结果
type Frame struct {
	Index     int // 从1开始
	Total     int // 总帧数，未知为0
	Label     string
	Original  image.Image
	Annotated image.Image
	Counts    map[string]int
	Result    *yolo.DetectionResult
}

// Process 对一帧执行：去除透明通道、限制尺寸、推理、统计类别
func Process(det Detector, img image.Image, maxSide int) (*Frame, error) {
	if img == nil {
		return nil, fmt.Errorf("空图像")
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	original := FlattenAlpha(img)
	if w, h := original.Bounds().Dx(), original.Bounds().Dy(); w > maxSide || h > maxSide {
		nw, nh := FitLongSide(w, h, maxSide)
		original = imaging.Resize(original, nw, nh, imaging.Box)
	}

	result, err := det.Detect(original)
	if err != nil {
		return nil, fmt.Errorf("检测失败: %w", err)
	}

	annotated := result.Annotated
	if annotated == nil {
		annotated = original
	}
	return &Frame{
		Original:  original,
		Annotated: annotated,
		Counts:    result.CountObjects(),
		Result:    result,
	}, nil
}

// FlattenAlpha 丢弃透明通道，返回不透明的RGB图像；已不透明的图像原样返回
func FlattenAlpha(img image.Image) image.Image {
	if isOpaque(img) {
		return img
	}
	// 颜色值保持不变，只把透明度置为不透明
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// FitLongSide 按比例缩放使长边等于 maxSide
func FitLongSide(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	if w >= h {
		nh := int(float64(h)*float64(maxSide)/float64(w) + 0.5)
		return maxSide, max(nh, 1)
	}
	nw := int(float64(w)*float64(maxSide)/float64(h) + 0.5)
	return max(nw, 1), maxSide
}

// isOpaque 标准库的图像类型都实现了 Opaque，其余类型按不透明未知处理
func isOpaque(img image.Image) bool {
	o, ok := img.(interface{ Opaque() bool })
	return ok && o.Opaque()
}

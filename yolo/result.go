package yolo

import (
	"fmt"
	"image"
	"sort"
)

// Detection 检测结果结构体
type Detection struct {
	Box     [4]float32 // x1, y1, x2, y2（原图像素坐标）
	Score   float32
	ClassID int
	Class   string
}

// DetectionResult 单帧推理结果
type DetectionResult struct {
	Detections []Detection
	Names      []string    // 类别ID到名称的映射表
	Annotated  image.Image // 绘制了检测框的图像
}

// ClassName 按类别表查找名称
func ClassName(names []string, id int) string {
	if id >= 0 && id < len(names) && names[id] != "" {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// CountObjects 统计每个类别出现的次数
func (r *DetectionResult) CountObjects() map[string]int {
	counts := make(map[string]int)
	if r == nil {
		return counts
	}
	for _, d := range r.Detections {
		counts[ClassName(r.Names, d.ClassID)]++
	}
	return counts
}

// ObjectCount 某个类别的数量
type ObjectCount struct {
	Name  string
	Count int
}

// SortedCounts 按数量降序排列，数量相同按名称排序
func SortedCounts(counts map[string]int) []ObjectCount {
	out := make([]ObjectCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ObjectCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

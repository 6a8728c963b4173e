package yolo

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// cocoClasses 默认COCO类别列表
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// DefaultClasses 返回COCO类别列表的副本
func DefaultClasses() []string {
	return append([]string(nil), cocoClasses...)
}

// loadClassesFromYAML 从YAML文件加载类别列表
// 支持 ultralytics 的 data.yaml（names 为列表或 id->name 映射）以及 classes 列表
func loadClassesFromYAML(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取类别文件失败: %w", err)
	}

	var doc struct {
		Names   yaml.Node `yaml:"names"`
		Classes []string  `yaml:"classes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析类别文件失败: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("解析names列表失败: %w", err)
		}
		if len(names) > 0 {
			return names, nil
		}
	case yaml.MappingNode:
		var byID map[int]string
		if err := doc.Names.Decode(&byID); err != nil {
			return nil, fmt.Errorf("解析names映射失败: %w", err)
		}
		if len(byID) > 0 {
			return namesFromMap(byID), nil
		}
	}

	if len(doc.Classes) > 0 {
		return doc.Classes, nil
	}
	return nil, fmt.Errorf("类别文件 %s 中没有找到类别列表", configPath)
}

// 匹配 {0: 'person', 1: "traffic light"} 形式的元数据
var metadataNamePattern = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// parseMetadataNames 解析 ultralytics 导出ONNX时写入的 names 元数据
func parseMetadataNames(raw string) []string {
	matches := metadataNamePattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	byID := make(map[int]string, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		byID[id] = name
	}
	return namesFromMap(byID)
}

func namesFromMap(byID map[int]string) []string {
	maxID := -1
	for id := range byID {
		if id > maxID {
			maxID = id
		}
	}
	names := make([]string, maxID+1)
	for id, name := range byID {
		if id >= 0 {
			names[id] = name
		}
	}
	return names
}

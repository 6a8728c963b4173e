package yolo

// YOLOConfig YOLO检测器配置（检测器级别 - 创建时设置）
type YOLOConfig struct {
	InputSize   int    `yaml:"input_size"`    // 输入尺寸（模型输入为动态维度时使用）
	UseGPU      bool   `yaml:"use_gpu"`       // 是否使用GPU
	GPUDeviceID int    `yaml:"gpu_device_id"` // GPU设备ID（仅在UseGPU=true时有效）
	LibraryPath string `yaml:"library_path"`  // ONNX Runtime库路径
	ClassesPath string `yaml:"classes_path"`  // 类别文件（data.yaml），模型元数据没有类别时使用
}

// DetectionOptions 检测选项（运行时级别）
type DetectionOptions struct {
	ConfThreshold float32 `yaml:"conf_threshold"` // 置信度阈值
	IOUThreshold  float32 `yaml:"iou_threshold"`  // IOU阈值
	DrawBoxes     bool    `yaml:"draw_boxes"`     // 是否绘制检测框
	DrawLabels    bool    `yaml:"draw_labels"`    // 是否绘制标签
	BoxColor      string  `yaml:"box_color"`      // 检测框颜色，空字符串表示按类别配色
	LabelColor    string  `yaml:"label_color"`    // 标签颜色
	LineWidth     int     `yaml:"line_width"`     // 线条宽度
	FontSize      int     `yaml:"font_size"`      // 标签字号，0 使用内置点阵字体
}

// DefaultConfig 返回默认检测器配置
func DefaultConfig() *YOLOConfig {
	return &YOLOConfig{
		InputSize: 640,
		UseGPU:    false,
	}
}

// WithInputSize 设置输入尺寸（正方形）
func (c *YOLOConfig) WithInputSize(size int) *YOLOConfig {
	c.InputSize = size
	return c
}

// WithGPU 设置是否使用GPU
func (c *YOLOConfig) WithGPU(use bool) *YOLOConfig {
	c.UseGPU = use
	return c
}

// WithGPUDeviceID 设置GPU设备ID（仅在UseGPU=true时有效）
func (c *YOLOConfig) WithGPUDeviceID(deviceID int) *YOLOConfig {
	c.GPUDeviceID = deviceID
	return c
}

// WithLibraryPath 设置ONNX Runtime库路径
func (c *YOLOConfig) WithLibraryPath(path string) *YOLOConfig {
	c.LibraryPath = path
	return c
}

// WithClassesPath 设置类别文件路径
func (c *YOLOConfig) WithClassesPath(path string) *YOLOConfig {
	c.ClassesPath = path
	return c
}

// DefaultDetectionOptions 默认检测选项
func DefaultDetectionOptions() *DetectionOptions {
	return &DetectionOptions{
		ConfThreshold: 0.25,
		IOUThreshold:  0.45,
		DrawBoxes:     true,
		DrawLabels:    true,
		BoxColor:      "",
		LabelColor:    "white",
		LineWidth:     2,
		FontSize:      12,
	}
}

// WithConfThreshold 设置置信度阈值
func (o *DetectionOptions) WithConfThreshold(threshold float32) *DetectionOptions {
	o.ConfThreshold = threshold
	return o
}

// WithIOUThreshold 设置IOU阈值
func (o *DetectionOptions) WithIOUThreshold(threshold float32) *DetectionOptions {
	o.IOUThreshold = threshold
	return o
}

// WithDrawBoxes 设置是否画框
func (o *DetectionOptions) WithDrawBoxes(draw bool) *DetectionOptions {
	o.DrawBoxes = draw
	return o
}

// WithDrawLabels 设置是否画标签
func (o *DetectionOptions) WithDrawLabels(draw bool) *DetectionOptions {
	o.DrawLabels = draw
	return o
}

// WithBoxColor 设置框的颜色
func (o *DetectionOptions) WithBoxColor(color string) *DetectionOptions {
	o.BoxColor = color
	return o
}

// WithLabelColor 设置标签的颜色
func (o *DetectionOptions) WithLabelColor(color string) *DetectionOptions {
	o.LabelColor = color
	return o
}

// WithLineWidth 设置线条宽度
func (o *DetectionOptions) WithLineWidth(width int) *DetectionOptions {
	o.LineWidth = width
	return o
}

// WithFontSize 设置标签字号，0 表示使用内置点阵字体
func (o *DetectionOptions) WithFontSize(size int) *DetectionOptions {
	o.FontSize = size
	return o
}

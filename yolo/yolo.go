package yolo

import (
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// 全局变量用于管理ONNX Runtime环境
var (
	ortInitialized bool
	ortMutex       sync.Mutex
)

// YOLO 检测器
type YOLO struct {
	log     logs.Log
	config  *YOLOConfig
	options *DetectionOptions

	mu      sync.Mutex // session.Run 不允许并发
	session *ort.DynamicAdvancedSession

	inputName   string
	outputName  string
	inputWidth  int
	inputHeight int
	inputBuf    []float32 // 预处理缓冲区，在 mu 保护下复用
	names       []string
}

// NewYOLO 加载ONNX模型创建检测器
func NewYOLO(log logs.Log, modelPath string, config *YOLOConfig, options *DetectionOptions) (*YOLO, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if options == nil {
		options = DefaultDetectionOptions()
	}

	if err := initEnvironment(config.LibraryPath); err != nil {
		return nil, err
	}

	inputInfos, outputInfos, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("无法读取模型 '%s' 的输入输出信息: %w", modelPath, err)
	}
	if len(inputInfos) == 0 || len(outputInfos) == 0 {
		return nil, fmt.Errorf("模型 '%s' 输入或输出信息为空", modelPath)
	}

	sessionOptions, err := newSessionOptions(log, config)
	if err != nil {
		return nil, err
	}
	defer sessionOptions.Destroy()

	y := &YOLO{
		log:         log,
		config:      config,
		options:     options,
		inputName:   inputInfos[0].Name,
		outputName:  outputInfos[0].Name,
		inputWidth:  config.InputSize,
		inputHeight: config.InputSize,
	}

	// 静态输入形状 [1, 3, H, W] 优先于配置
	if dims := inputInfos[0].Dimensions; len(dims) == 4 && dims[2] > 0 && dims[3] > 0 {
		y.inputHeight = int(dims[2])
		y.inputWidth = int(dims[3])
	}
	if y.inputWidth <= 0 || y.inputHeight <= 0 {
		return nil, fmt.Errorf("模型输入尺寸未知，请在配置中设置 input_size")
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{y.inputName}, []string{y.outputName}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("无法加载模型文件 '%s': %w", modelPath, err)
	}
	y.session = session

	y.names = loadNames(log, modelPath, config.ClassesPath)

	log.Infof("模型已加载: %s (输入 %dx%d, %d 个类别)", modelPath, y.inputWidth, y.inputHeight, len(y.names))
	return y, nil
}

func initEnvironment(libraryPath string) error {
	ortMutex.Lock()
	defer ortMutex.Unlock()

	if ortInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("无法初始化ONNX Runtime: %w", err)
	}
	ortInitialized = true
	return nil
}

// DestroyEnvironment 销毁ONNX Runtime环境（在所有检测器都关闭后调用）
func DestroyEnvironment() {
	ortMutex.Lock()
	defer ortMutex.Unlock()
	if ortInitialized {
		ort.DestroyEnvironment()
		ortInitialized = false
	}
}

func newSessionOptions(log logs.Log, config *YOLOConfig) (*ort.SessionOptions, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("无法创建会话选项: %w", err)
	}

	// 对于高核心数CPU，使用75%的核心以避免过度竞争
	threads := runtime.NumCPU()
	if threads > 8 {
		threads = threads * 3 / 4
	}
	if err := sessionOptions.SetIntraOpNumThreads(threads); err != nil {
		log.Warnf("设置线程数失败: %v", err)
	}
	if err := sessionOptions.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		log.Warnf("设置图优化级别失败: %v", err)
	}

	if config.UseGPU {
		if err := appendCUDA(sessionOptions, config.GPUDeviceID); err != nil {
			log.Warnf("CUDA不可用: %v", err)
			if err := sessionOptions.AppendExecutionProviderDirectML(config.GPUDeviceID); err != nil {
				log.Warnf("DirectML不可用，使用CPU: %v", err)
			} else {
				log.Infof("DirectML GPU加速已启用")
			}
		} else {
			log.Infof("CUDA GPU加速已启用 (设备 %d)", config.GPUDeviceID)
		}
	}
	return sessionOptions, nil
}

func appendCUDA(sessionOptions *ort.SessionOptions, deviceID int) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{"device_id": fmt.Sprintf("%d", deviceID)}); err != nil {
		return err
	}
	return sessionOptions.AppendExecutionProviderCUDA(cudaOptions)
}

// loadNames 类别表来源依次为：模型元数据、类别文件、COCO默认列表
func loadNames(log logs.Log, modelPath, classesPath string) []string {
	if names, err := metadataNames(modelPath); err != nil {
		log.Warnf("读取模型元数据失败: %v", err)
	} else if len(names) > 0 {
		return names
	}
	if classesPath != "" {
		names, err := loadClassesFromYAML(classesPath)
		if err == nil {
			return names
		}
		log.Warnf("加载类别信息失败: %v", err)
	}
	log.Infof("使用默认COCO类别列表")
	return DefaultClasses()
}

func metadataNames(modelPath string) ([]string, error) {
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, err
	}
	defer metadata.Destroy()

	raw, ok, err := metadata.LookupCustomMetadataMap("names")
	if err != nil || !ok {
		return nil, err
	}
	return parseMetadataNames(raw), nil
}

// Close 关闭YOLO检测器
func (y *YOLO) Close() {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.session != nil {
		y.session.Destroy()
		y.session = nil
	}
	// 注意：不要在这里调用 ort.DestroyEnvironment()，可能有其他检测器还在使用
}

// Detect 对一帧图像推理，返回检测结果和绘制好的图像
func (y *YOLO) Detect(img image.Image) (*DetectionResult, error) {
	detections, err := y.detectImage(img)
	if err != nil {
		return nil, err
	}
	return &DetectionResult{
		Detections: detections,
		Names:      y.names,
		Annotated:  drawDetectionsOnImage(img, detections, y.options),
	}, nil
}

// detectImage 检测单张图像（内部方法）
func (y *YOLO) detectImage(img image.Image) ([]Detection, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.session == nil {
		return nil, fmt.Errorf("检测器已关闭")
	}

	bounds := img.Bounds()
	originalWidth := float32(bounds.Dx())
	originalHeight := float32(bounds.Dy())

	y.inputBuf = preprocessImage(img, y.inputWidth, y.inputHeight, y.inputBuf)
	inputData := y.inputBuf
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(y.inputHeight), int64(y.inputWidth)), inputData)
	if err != nil {
		return nil, fmt.Errorf("无法创建输入张量: %w", err)
	}
	defer inputTensor.Destroy()

	// 输出由 onnxruntime 按模型实际形状分配
	outputs := []ort.Value{nil}
	if err := y.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("推理失败: %w", err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("不支持的模型输出类型 %T", outputs[0])
	}

	detections := parseDetections(outputTensor.GetData(), outputTensor.GetShape(), y.options.ConfThreshold, y.names)

	// 将坐标从模型输入尺寸转换回原始图像尺寸
	scaleX := originalWidth / float32(y.inputWidth)
	scaleY := originalHeight / float32(y.inputHeight)
	for i := range detections {
		detections[i].Box[0] = detections[i].Box[0]*scaleX + float32(bounds.Min.X)
		detections[i].Box[1] = detections[i].Box[1]*scaleY + float32(bounds.Min.Y)
		detections[i].Box[2] = detections[i].Box[2]*scaleX + float32(bounds.Min.X)
		detections[i].Box[3] = detections[i].Box[3]*scaleY + float32(bounds.Min.Y)
	}

	return nonMaxSuppression(detections, y.options.IOUThreshold), nil
}

// preprocessImage 缩放到模型输入尺寸，输出 [1, 3, H, W] 归一化到 [0, 1]
// buf 足够大时直接复用
func preprocessImage(img image.Image, width, height int, buf []float32) []float32 {
	resized := imaging.Resize(img, width, height, imaging.Linear)

	plane := width * height
	data := buf
	if len(data) < 3*plane {
		data = make([]float32, 3*plane)
	}
	data = data[:3*plane]
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < width; x++ {
			p := row[x*4:]
			i := y*width + x
			data[i] = float32(p[0]) / 255.0
			data[plane+i] = float32(p[1]) / 255.0
			data[2*plane+i] = float32(p[2]) / 255.0
		}
	}
	return data
}

// parseDetections 解析YOLOv8输出
// 标准格式为 [1, 4+类别数, 候选框数]，部分导出为转置的 [1, 候选框数, 4+类别数]
func parseDetections(outputData []float32, outputShape []int64, confThreshold float32, names []string) []Detection {
	if len(outputShape) != 3 || outputShape[0] != 1 {
		return nil
	}

	numFeatures, numBoxes, transposed := outputLayout(int(outputShape[1]), int(outputShape[2]), len(names))
	numClasses := numFeatures - 4
	if numClasses <= 0 || len(outputData) < numFeatures*numBoxes {
		return nil
	}

	at := func(feature, box int) float32 {
		if transposed {
			return outputData[box*numFeatures+feature]
		}
		return outputData[feature*numBoxes+box]
	}

	var detections []Detection
	for i := 0; i < numBoxes; i++ {
		var bestScore float32
		bestID := 0
		for c := 0; c < numClasses; c++ {
			if score := at(4+c, i); score > bestScore {
				bestScore = score
				bestID = c
			}
		}
		if bestScore < confThreshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		detections = append(detections, Detection{
			Box:     [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			Score:   bestScore,
			ClassID: bestID,
			Class:   ClassName(names, bestID),
		})
	}
	return detections
}

// outputLayout 按类别数判断哪一维是 4+类别数；类别数对不上时取较小的一维
func outputLayout(dim1, dim2, numClasses int) (numFeatures, numBoxes int, transposed bool) {
	if numClasses > 0 {
		switch 4 + numClasses {
		case dim1:
			return dim1, dim2, false
		case dim2:
			return dim2, dim1, true
		}
	}
	if dim1 > dim2 {
		return dim2, dim1, true
	}
	return dim1, dim2, false
}

// iou 计算两个框的交并比
func iou(box1, box2 [4]float32) float32 {
	interXMin := max(box1[0], box2[0])
	interYMin := max(box1[1], box2[1])
	interXMax := min(box1[2], box2[2])
	interYMax := min(box1[3], box2[3])

	interArea := max(0, interXMax-interXMin) * max(0, interYMax-interYMin)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])

	return interArea / (area1 + area2 - interArea + 1e-6)
}

// nonMaxSuppression 按类别做非极大抑制
func nonMaxSuppression(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})

	var keep []Detection
	for _, current := range detections {
		suppressed := false
		for _, k := range keep {
			if k.ClassID == current.ClassID && iou(current.Box, k.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, current)
		}
	}
	return keep
}

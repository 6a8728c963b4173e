package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/Cubiaa/obstacle-detect/gui"
	"github.com/Cubiaa/obstacle-detect/session"
	"github.com/Cubiaa/obstacle-detect/yolo"
)

func main() {
	parser := argparse.NewParser("obstacle-detect", "YOLOv8 障碍物检测演示")
	configFile := parser.String("c", "config", &argparse.Options{Help: "应用配置文件 (yaml)，不存在时创建", Default: "app.yaml"})
	stateFile := parser.String("s", "state", &argparse.Options{Help: "上次检测状态文件 (ini)", Default: "config.ini"})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "启动时加载的ONNX模型", Default: ""})
	libraryPath := parser.String("", "lib", &argparse.Options{Help: "ONNX Runtime 动态库路径，覆盖配置文件", Default: ""})
	useGPU := parser.Flag("", "gpu", &argparse.Options{Help: "使用GPU推理", Default: false})
	deviceID := parser.Int("", "device", &argparse.Options{Help: "GPU设备ID", Default: -1})
	classesFile := parser.String("", "classes", &argparse.Options{Help: "类别文件 (data.yaml)，模型没有类别元数据时使用", Default: ""})
	inputSize := parser.Int("", "input-size", &argparse.Options{Help: "模型输入尺寸（动态输入的模型）", Default: 0})
	confThreshold := parser.Float("", "conf", &argparse.Options{Help: "置信度阈值", Default: 0.0})
	iouThreshold := parser.Float("", "iou", &argparse.Options{Help: "NMS IOU阈值", Default: 0.0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	cm := yolo.NewConfigManager(*configFile)
	if err := cm.LoadOrCreate(); err != nil {
		logger.Criticalf("加载配置失败: %v", err)
		os.Exit(1)
	}
	cfg := cm.Config()
	if *libraryPath != "" {
		cfg.YOLO.WithLibraryPath(*libraryPath)
	}
	if *useGPU {
		cfg.YOLO.WithGPU(true)
	}
	if *deviceID >= 0 {
		cfg.YOLO.WithGPUDeviceID(*deviceID)
	}
	if *classesFile != "" {
		cfg.YOLO.WithClassesPath(*classesFile)
	}
	if *inputSize > 0 {
		cfg.YOLO.WithInputSize(*inputSize)
	}
	if *confThreshold > 0 {
		cfg.Detection.WithConfThreshold(float32(*confThreshold))
	}
	if *iouThreshold > 0 {
		cfg.Detection.WithIOUThreshold(float32(*iouThreshold))
	}

	loadModel := func(path string) (session.Model, error) {
		return yolo.NewYOLO(logger, path, &cfg.YOLO, &cfg.Detection)
	}

	window := gui.NewDetectorWindow(logger, cfg)
	s := session.New(session.Options{
		Log:       logger,
		Config:    cfg,
		StatePath: *stateFile,
		LoadModel: loadModel,
		View:      window,
	})
	window.Bind(s)

	go func() {
		if err := s.Restore(); err != nil {
			logger.Warnf("读取上次状态失败: %v", err)
		}
		if *modelFile != "" {
			s.LoadModel(*modelFile)
		}
	}()

	window.ShowAndRun()
	yolo.DestroyEnvironment()
}

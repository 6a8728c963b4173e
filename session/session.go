// Package session 保存检测界面的全部状态，界面操作通过这里的状态转换完成
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Cubiaa/obstacle-detect/frames"
	"github.com/Cubiaa/obstacle-detect/pipeline"
	"github.com/Cubiaa/obstacle-detect/yolo"
	"github.com/cyclopcam/logs"
)

var (
	// ErrModelLoad 模型加载失败
	ErrModelLoad = errors.New("模型加载失败")
	// ErrNoModel 尚未加载模型
	ErrNoModel = errors.New("请先加载模型")
	// ErrNoResults 还没有检测结果
	ErrNoResults = errors.New("请先进行检测操作")
)

// Mode 当前检测类型
type Mode int

const (
	ModeNone Mode = iota
	ModeImage
	ModeFolder
	ModeVideo
	ModeCamera
)

func (m Mode) String() string {
	switch m {
	case ModeImage:
		return "image"
	case ModeFolder:
		return "folder"
	case ModeVideo:
		return "video"
	case ModeCamera:
		return "camera"
	default:
		return "none"
	}
}

// ParseMode 解析状态文件中的检测类型，无法识别时返回 ModeNone
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return ModeImage
	case "folder":
		return ModeFolder
	case "video":
		return ModeVideo
	case "camera":
		return ModeCamera
	default:
		return ModeNone
	}
}

// Model 已加载的检测模型
type Model interface {
	pipeline.Detector
	Close()
}

// ModelLoader 按路径加载模型
type ModelLoader func(path string) (Model, error)

// View 显示检测结果的界面，方法可能在后台goroutine中调用
type View interface {
	ShowFrames(original, annotated image.Image)
	SetStatus(text string)
	SetProgress(done, total int)
	Warn(title, message string)
	Inform(title, message string)
	SetEnabled(action Action, enabled bool)
}

// Options 创建会话的参数
type Options struct {
	Log       logs.Log
	Config    *yolo.AppConfig
	StatePath string
	LoadModel ModelLoader
	View      View

	// 以下为空时使用 frames 包的实现
	OpenVideo  func(path string) (frames.Source, float64, error)
	OpenCamera frames.Opener
	NewWriter  func(path string, fps float64) pipeline.FrameWriter
}

// Session 检测会话
type Session struct {
	log        logs.Log
	cfg        *yolo.AppConfig
	statePath  string
	loadModel  ModelLoader
	view       View
	openVideo  func(path string) (frames.Source, float64, error)
	openCamera frames.Opener
	newWriter  func(path string, fps float64) pipeline.FrameWriter

	// opMu 保证同一时间只执行一个状态转换
	opMu sync.Mutex
	// enableMu 保证按钮状态按计算顺序下发
	enableMu sync.Mutex

	mu            sync.Mutex
	mode          Mode
	videoPath     string
	pendingVideo  string
	model         Model
	modelPath     string
	last          *pipeline.Frame
	cameraRunning bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New 创建会话
func New(opts Options) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = yolo.DefaultAppConfig()
	}
	s := &Session{
		log:        opts.Log,
		cfg:        cfg,
		statePath:  opts.StatePath,
		loadModel:  opts.LoadModel,
		view:       opts.View,
		openVideo:  opts.OpenVideo,
		openCamera: opts.OpenCamera,
		newWriter:  opts.NewWriter,
	}
	if s.openVideo == nil {
		s.openVideo = func(path string) (frames.Source, float64, error) {
			v, err := frames.OpenVideo(path)
			if err != nil {
				return nil, 0, err
			}
			return v, v.FPS(), nil
		}
	}
	if s.openCamera == nil {
		s.openCamera = func(ctx context.Context) (frames.Source, error) {
			return frames.OpenCamera(s.log, frames.CameraOptions{
				URL:    cfg.Camera.URL,
				Width:  cfg.Camera.Width,
				Height: cfg.Camera.Height,
			})
		}
	}
	if s.newWriter == nil {
		s.newWriter = func(path string, fps float64) pipeline.FrameWriter {
			return frames.NewVideoWriter(path, fps, cfg.Video.FourCC)
		}
	}
	return s
}

// Mode 当前检测类型
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// VideoPath 最近一次检测的视频
func (s *Session) VideoPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoPath
}

// HasModel 是否已加载模型
func (s *Session) HasModel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model != nil
}

// ModelPath 当前模型文件
func (s *Session) ModelPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelPath
}

// LastFrame 最近一次的检测结果
func (s *Session) LastFrame() *pipeline.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Restore 读取上次的状态；上次是视频检测时，加载模型后继续检测该视频
func (s *Session) Restore() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := LoadState(s.statePath)
	if err != nil {
		return err
	}
	mode := ParseMode(st.DetectionType)

	s.mu.Lock()
	s.mode = mode
	s.videoPath = st.VideoPath
	if mode == ModeVideo && st.VideoPath != "" {
		s.pendingVideo = st.VideoPath
	}
	pending := s.pendingVideo
	s.mu.Unlock()

	if pending != "" {
		s.log.Infof("上次检测的视频: %s", pending)
		s.view.SetStatus(fmt.Sprintf("加载模型后将继续检测视频 %s", filepath.Base(pending)))
	}
	s.updateEnabled()
	return nil
}

// LoadModel 加载模型，替换并关闭之前的模型
func (s *Session) LoadModel(path string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopTask()

	s.view.SetStatus(fmt.Sprintf("正在加载模型 %s ...", filepath.Base(path)))
	m, err := s.loadModel(path)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrModelLoad, err)
		s.log.Errorf("%v", err)
		s.view.Warn("错误", err.Error())
		s.view.SetStatus("")
		return err
	}

	s.mu.Lock()
	old := s.model
	s.model = m
	s.modelPath = path
	pending := s.pendingVideo
	s.pendingVideo = ""
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.log.Infof("模型已加载: %s", path)
	s.view.SetStatus(fmt.Sprintf("模型已加载: %s", filepath.Base(path)))
	s.updateEnabled()

	if pending != "" {
		if err := s.detectVideo(pending); err != nil {
			s.log.Warnf("无法继续检测上次的视频: %v", err)
		}
	}
	return nil
}

func (s *Session) currentModel() (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil, ErrNoModel
	}
	return s.model, nil
}

func (s *Session) requireModel() (Model, error) {
	m, err := s.currentModel()
	if err != nil {
		s.view.Warn("提示", err.Error())
	}
	return m, err
}

// DetectImage 检测单张图片
func (s *Session) DetectImage(path string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	model, err := s.requireModel()
	if err != nil {
		return err
	}
	s.stopTask()

	img, err := frames.NewImageSource(path).Next(context.Background())
	if err != nil {
		s.log.Errorf("读取图片失败: %v", err)
		s.view.Warn("错误", fmt.Sprintf("无法读取图片: %v", err))
		return err
	}

	frame, err := pipeline.Process(model, img, s.cfg.UI.MaxSide)
	if err != nil {
		s.log.Errorf("%v", err)
		s.view.Warn("错误", err.Error())
		return err
	}
	frame.Index, frame.Total, frame.Label = 1, 1, path

	s.mu.Lock()
	s.mode = ModeImage
	s.last = frame
	s.mu.Unlock()

	s.view.ShowFrames(frame.Original, frame.Annotated)
	s.view.SetStatus(fmt.Sprintf("%s: %s", filepath.Base(path), FormatCounts(frame.Counts)))
	s.updateEnabled()
	return nil
}

// DetectFolder 依次检测文件夹中的图片
func (s *Session) DetectFolder(dir string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	model, err := s.requireModel()
	if err != nil {
		return err
	}
	s.stopTask()

	src, err := frames.OpenFolder(dir)
	if err != nil {
		s.log.Errorf("%v", err)
		s.view.Warn("错误", err.Error())
		return err
	}
	if src.Total() == 0 {
		s.view.Inform("提示", "文件夹中没有图片")
		return nil
	}

	s.mu.Lock()
	s.mode = ModeFolder
	s.mu.Unlock()
	s.updateEnabled()

	outputDir := s.cfg.Video.FolderOutputDir
	runner := &pipeline.Runner{
		Log:              s.log,
		Detector:         model,
		MaxSide:          s.cfg.UI.MaxSide,
		SkipDecodeErrors: true,
		OnSkip: func(label string, err error) {
			s.view.SetStatus(fmt.Sprintf("跳过无法读取的图片 %s", filepath.Base(label)))
		},
	}

	s.startTask(func(ctx context.Context) {
		defer src.Close()
		n, err := runner.Run(ctx, src, func(f *pipeline.Frame) {
			s.showFrame(f)
			if outputDir != "" {
				out := folderOutputPath(dir, outputDir, f.Label)
				if err := frames.SaveImage(out, f.Annotated); err != nil {
					s.log.Warnf("%v", err)
				}
			}
		})
		if err != nil {
			s.log.Errorf("文件夹检测失败: %v", err)
			s.view.Warn("错误", err.Error())
			return
		}
		s.log.Infof("文件夹检测完成: %s, %d/%d 张", dir, n, src.Total())
		s.view.SetStatus(fmt.Sprintf("文件夹检测完成，共 %d 张", n))
	})
	return nil
}

// folderOutputPath 结果图片的保存路径；输出目录与输入目录相同时加后缀，不覆盖原图
func folderOutputPath(inputDir, outputDir, label string) string {
	name := filepath.Base(label)
	in, err1 := filepath.Abs(inputDir)
	out, err2 := filepath.Abs(outputDir)
	if err1 != nil || err2 != nil || in == out {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_result" + ext
	}
	return filepath.Join(outputDir, name)
}

// DetectVideo 检测视频，结果写入输出视频
func (s *Session) DetectVideo(path string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.detectVideo(path)
}

func (s *Session) detectVideo(path string) error {
	model, err := s.requireModel()
	if err != nil {
		return err
	}
	s.stopTask()

	s.mu.Lock()
	s.mode = ModeVideo
	s.videoPath = path
	s.mu.Unlock()

	src, fps, err := s.openVideo(path)
	if err != nil {
		s.log.Errorf("%v", err)
		s.view.Warn("错误", "无法打开视频文件")
		return err
	}
	s.updateEnabled()

	outputPath := s.cfg.Video.OutputPath
	runner := &pipeline.Runner{
		Log:      s.log,
		Detector: model,
		MaxSide:  s.cfg.UI.MaxSide,
		Writer:   s.newWriter(outputPath, fps),
	}

	s.log.Infof("开始检测视频 %s (%.2f FPS, %d 帧)", path, fps, frames.Total(src))
	s.startTask(func(ctx context.Context) {
		defer src.Close()
		n, err := runner.Run(ctx, src, s.showFrame)
		if err != nil {
			s.log.Errorf("视频检测中断: %v", err)
			s.view.Warn("错误", fmt.Sprintf("视频检测中断: %v", err))
		} else {
			s.view.SetStatus(fmt.Sprintf("视频检测完成，共 %d 帧，已保存到 %s", n, outputPath))
		}
		if err := s.saveState(); err != nil {
			s.log.Warnf("%v", err)
		}
	})
	return nil
}

// StartCamera 开始摄像头检测，断开后按配置的策略重连
func (s *Session) StartCamera() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	model, err := s.requireModel()
	if err != nil {
		return err
	}
	s.stopTask()

	cam := s.cfg.Camera
	src := frames.NewReconnectingSource(s.log, s.openCamera, frames.RetryPolicy{
		MaxAttempts: cam.MaxAttempts,
		Backoff:     time.Duration(cam.BackoffMs) * time.Millisecond,
	})
	runner := &pipeline.Runner{
		Log:      s.log,
		Detector: model,
		MaxSide:  s.cfg.UI.MaxSide,
		Interval: time.Duration(cam.PollIntervalMs) * time.Millisecond,
	}

	s.mu.Lock()
	s.mode = ModeCamera
	s.cameraRunning = true
	s.mu.Unlock()
	s.updateEnabled()
	s.view.SetStatus("摄像头检测中")

	s.startTask(func(ctx context.Context) {
		defer src.Close()
		n, err := runner.Run(ctx, src, s.showFrame)
		if err != nil {
			s.log.Errorf("摄像头检测结束: %v", err)
			s.view.Warn("警告", "无法连接到摄像头，请检查连接！")
		}
		s.log.Infof("摄像头检测停止，共处理 %d 帧", n)

		s.mu.Lock()
		s.cameraRunning = false
		s.mu.Unlock()
		s.view.SetStatus("摄像头已停止")
		s.updateEnabled()
	})
	return nil
}

// StopCamera 停止摄像头或正在进行的视频、文件夹检测，正在处理的帧完成并显示后返回
func (s *Session) StopCamera() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopTask()
	return nil
}

// ShowObjects 显示最近一帧识别到的物体
func (s *Session) ShowObjects() error {
	last := s.LastFrame()
	if last == nil {
		s.view.Inform("提示", ErrNoResults.Error())
		return ErrNoResults
	}
	s.view.Inform("识别结果", ObjectsMessage(last.Counts))
	return nil
}

// Save 保存检测结果：图片模式保存当前结果图，视频模式输出视频已在检测时写入
func (s *Session) Save(path string) error {
	s.mu.Lock()
	last := s.last
	mode := s.mode
	s.mu.Unlock()

	if last == nil {
		s.view.Inform("提示", ErrNoResults.Error())
		return ErrNoResults
	}
	if mode == ModeVideo {
		s.view.Inform("保存视频", fmt.Sprintf("视频已保存到 %s", s.cfg.Video.OutputPath))
		return nil
	}
	if filepath.Ext(path) == "" {
		path += ".jpg"
	}
	if err := frames.SaveImage(path, last.Annotated); err != nil {
		s.log.Errorf("%v", err)
		s.view.Warn("错误", err.Error())
		return err
	}
	s.log.Infof("检测结果已保存: %s", path)
	s.view.SetStatus(fmt.Sprintf("检测结果已保存: %s", path))
	return nil
}

// Shutdown 停止后台检测、保存状态并释放模型
func (s *Session) Shutdown() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopTask()
	err := s.saveState()

	s.mu.Lock()
	m := s.model
	s.model = nil
	s.mu.Unlock()
	if m != nil {
		m.Close()
	}
	return err
}

// Wait 等待当前的后台检测结束
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) saveState() error {
	s.mu.Lock()
	st := State{DetectionType: s.mode.String(), VideoPath: s.videoPath}
	s.mu.Unlock()
	return SaveState(s.statePath, st)
}

func (s *Session) showFrame(f *pipeline.Frame) {
	s.mu.Lock()
	first := s.last == nil
	s.last = f
	s.mu.Unlock()

	if first {
		s.updateEnabled()
	}
	s.view.ShowFrames(f.Original, f.Annotated)
	if f.Total > 0 {
		s.view.SetProgress(f.Index, f.Total)
	}
}

// startTask 在后台goroutine中运行检测循环，调用前必须已 stopTask
func (s *Session) startTask(fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.updateEnabled()

	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)

		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		s.updateEnabled()
	}()
}

// stopTask 取消后台检测并等待其结束
func (s *Session) stopTask() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) updateEnabled() {
	s.enableMu.Lock()
	defer s.enableMu.Unlock()

	s.mu.Lock()
	hasModel := s.model != nil
	camera := s.cameraRunning
	running := s.cancel != nil
	hasResult := s.last != nil
	s.mu.Unlock()

	for _, c := range commands {
		enabled := true
		switch c.Action {
		case ActionDetectImage, ActionDetectFolder, ActionDetectVideo, ActionShowObjects:
			enabled = hasModel
		case ActionStartCamera:
			enabled = hasModel && !camera
		case ActionStopCamera:
			enabled = camera || running
		case ActionSave:
			enabled = hasResult
		}
		s.view.SetEnabled(c.Action, enabled)
	}
}

// FormatCounts 单行显示的类别计数
func FormatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "未检测到物体"
	}
	parts := make([]string, 0, len(counts))
	for _, c := range yolo.SortedCounts(counts) {
		parts = append(parts, fmt.Sprintf("%s: %d", c.Name, c.Count))
	}
	return strings.Join(parts, ", ")
}

// ObjectsMessage 识别结果对话框的内容
func ObjectsMessage(counts map[string]int) string {
	if len(counts) == 0 {
		return "未检测到物体"
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	var b strings.Builder
	fmt.Fprintf(&b, "识别到的物体总个数：%d\n", total)
	for _, c := range yolo.SortedCounts(counts) {
		fmt.Fprintf(&b, "%s: %d\n", c.Name, c.Count)
	}
	return b.String()
}

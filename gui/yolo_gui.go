package gui

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"

	"github.com/Cubiaa/obstacle-detect/session"
	"github.com/Cubiaa/obstacle-detect/yolo"
)

// 单个显示区域的最小尺寸
const (
	paneWidth  = 560
	paneHeight = 480
)

// DetectorWindow 双画面检测窗口：左侧原图，右侧检测结果
type DetectorWindow struct {
	log     logs.Log
	app     fyne.App
	window  fyne.Window
	session *session.Session

	original  *canvas.Image
	annotated *canvas.Image
	status    *widget.Label
	progress  *widget.ProgressBar
	buttons   map[session.Action]*widget.Button

	// paneSize 最近一次在界面线程上读到的显示区域尺寸
	paneSize atomic.Pointer[fyne.Size]
}

// NewDetectorWindow 创建窗口，需要在 Bind 之后才能操作
func NewDetectorWindow(log logs.Log, cfg *yolo.AppConfig) *DetectorWindow {
	w := &DetectorWindow{
		log:     log,
		app:     app.New(),
		buttons: make(map[session.Action]*widget.Button),
	}

	w.window = w.app.NewWindow("YOLOv8 目标检测系统")
	w.window.Resize(fyne.NewSize(float32(cfg.UI.Width), float32(cfg.UI.Height)))

	w.original = newPane()
	w.annotated = newPane()
	w.status = widget.NewLabel("请先选择模型")
	w.progress = widget.NewProgressBar()
	w.progress.Hide()

	return w
}

func newPane() *canvas.Image {
	pane := canvas.NewImageFromImage(imaging.New(paneWidth, paneHeight, color.Gray{Y: 32}))
	pane.FillMode = canvas.ImageFillContain
	pane.SetMinSize(fyne.NewSize(paneWidth/2, paneHeight/2))
	return pane
}

// Bind 关联会话并创建界面
func (w *DetectorWindow) Bind(s *session.Session) {
	w.session = s

	var controls []fyne.CanvasObject
	for _, c := range session.Commands() {
		c := c
		btn := widget.NewButton(c.Label, func() { w.onCommand(c) })
		if c.Action != session.ActionLoadModel && c.Action != session.ActionExit {
			btn.Disable()
		}
		w.buttons[c.Action] = btn
		controls = append(controls, btn)
	}

	panes := container.NewHSplit(
		container.NewBorder(widget.NewLabel("原始图像"), nil, nil, nil, w.original),
		container.NewBorder(widget.NewLabel("检测结果"), nil, nil, nil, w.annotated),
	)
	bottom := container.NewVBox(w.progress, w.status)
	content := container.NewBorder(nil, bottom, container.NewVBox(controls...), nil, panes)
	w.window.SetContent(content)

	// 关闭窗口等同于退出按钮，保证状态被保存
	w.window.SetCloseIntercept(func() {
		w.run(session.ActionExit, "")
	})
}

// ShowAndRun 显示窗口并进入事件循环
func (w *DetectorWindow) ShowAndRun() {
	w.window.ShowAndRun()
}

func (w *DetectorWindow) onCommand(c session.Command) {
	switch c.Picker {
	case session.PickFile:
		w.status.SetText(c.Title)
		d := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
			if err != nil || reader == nil {
				return
			}
			path := reader.URI().Path()
			reader.Close()
			w.run(c.Action, path)
		}, w.window)
		if len(c.Extensions) > 0 {
			d.SetFilter(storage.NewExtensionFileFilter(c.Extensions))
		}
		d.Show()

	case session.PickFolder:
		w.status.SetText(c.Title)
		dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil || uri == nil {
				return
			}
			w.run(c.Action, uri.Path())
		}, w.window)

	case session.PickSaveFile:
		if w.session.Mode() == session.ModeVideo {
			w.run(c.Action, "")
			return
		}
		d := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
			if err != nil || writer == nil {
				return
			}
			path := writer.URI().Path()
			writer.Close()
			w.run(c.Action, path)
		}, w.window)
		d.SetFileName("result.jpg")
		if len(c.Extensions) > 0 {
			d.SetFilter(storage.NewExtensionFileFilter(c.Extensions))
		}
		d.Show()

	default:
		w.run(c.Action, "")
	}
}

// run 在后台执行会话操作，避免阻塞界面
func (w *DetectorWindow) run(action session.Action, arg string) {
	go func() {
		if err := w.session.Dispatch(action, arg); err != nil {
			w.log.Debugf("%s: %v", action, err)
		}
		if action == session.ActionExit {
			fyne.Do(w.app.Quit)
		}
	}()
}

// ShowFrames 更新两个画面
func (w *DetectorWindow) ShowFrames(original, annotated image.Image) {
	original, annotated = w.fitFrames(original, annotated)
	fyne.Do(func() {
		w.original.Image = original
		w.original.Refresh()
		w.annotated.Image = annotated
		w.annotated.Refresh()
		w.rememberPaneSize(w.annotated.Size())
	})
}

func (w *DetectorWindow) rememberPaneSize(size fyne.Size) {
	w.paneSize.Store(&size)
}

// fitFrames 按已知的显示区域尺寸缩小两幅图像，尺寸未知时不缩放
func (w *DetectorWindow) fitFrames(original, annotated image.Image) (image.Image, image.Image) {
	size := w.paneSize.Load()
	if size == nil {
		return original, annotated
	}
	width, height := int(size.Width), int(size.Height)
	return fitForDisplay(original, width, height), fitForDisplay(annotated, width, height)
}

func (w *DetectorWindow) SetStatus(text string) {
	fyne.Do(func() { w.status.SetText(text) })
}

// SetProgress 显示 done/total 进度
func (w *DetectorWindow) SetProgress(done, total int) {
	fyne.Do(func() {
		if total <= 0 {
			w.progress.Hide()
			return
		}
		w.progress.Max = float64(total)
		w.progress.SetValue(float64(done))
		w.progress.Show()
		w.status.SetText(fmt.Sprintf("进度: %d/%d", done, total))
	})
}

func (w *DetectorWindow) Warn(title, message string) {
	err := warning(title, message)
	fyne.Do(func() { dialog.ShowError(err, w.window) })
}

// warning 错误对话框只有固定标题，把标题并入内容
func warning(title, message string) error {
	if title == "" {
		return errors.New(message)
	}
	return fmt.Errorf("%s：%s", title, message)
}

func (w *DetectorWindow) Inform(title, message string) {
	fyne.Do(func() { dialog.ShowInformation(title, message, w.window) })
}

// SetEnabled 启用或禁用操作按钮
func (w *DetectorWindow) SetEnabled(action session.Action, enabled bool) {
	btn, ok := w.buttons[action]
	if !ok {
		return
	}
	fyne.Do(func() {
		if enabled {
			btn.Enable()
		} else {
			btn.Disable()
		}
	})
}

// fitForDisplay 缩小到不超过显示区域两倍的尺寸，减少界面缩放的开销
func fitForDisplay(img image.Image, width, height int) image.Image {
	if img == nil || width <= 0 || height <= 0 {
		return img
	}
	maxW, maxH := width*2, height*2
	b := img.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Linear)
}

package session

import "fmt"

// Action 界面上的一个操作
type Action string

const (
	ActionLoadModel    Action = "load_model"
	ActionDetectImage  Action = "detect_image"
	ActionDetectFolder Action = "detect_folder"
	ActionDetectVideo  Action = "detect_video"
	ActionStartCamera  Action = "start_camera"
	ActionStopCamera   Action = "stop_camera"
	ActionShowObjects  Action = "show_objects"
	ActionSave         Action = "save"
	ActionExit         Action = "exit"
)

// Picker 执行操作前需要用户选择的内容
type Picker int

const (
	PickNone Picker = iota
	PickFile
	PickFolder
	PickSaveFile
)

// Command 操作表中的一项
type Command struct {
	Action     Action
	Label      string
	Picker     Picker
	Title      string   // 选择对话框标题
	Extensions []string // 文件过滤，空表示不过滤
}

var commands = []Command{
	{Action: ActionLoadModel, Label: "模型选择", Picker: PickFile, Title: "选择模型文件", Extensions: []string{".onnx"}},
	{Action: ActionDetectImage, Label: "图片检测", Picker: PickFile, Title: "选择图片文件", Extensions: []string{".jpg", ".jpeg", ".png"}},
	{Action: ActionDetectFolder, Label: "文件夹检测", Picker: PickFolder, Title: "选择图片文件夹"},
	{Action: ActionDetectVideo, Label: "视频检测", Picker: PickFile, Title: "选择视频文件", Extensions: []string{".mp4", ".avi", ".mov", ".mkv"}},
	{Action: ActionStartCamera, Label: "摄像头检测"},
	{Action: ActionStopCamera, Label: "停止检测"},
	{Action: ActionShowObjects, Label: "显示检测物体"},
	{Action: ActionSave, Label: "保存检测结果", Picker: PickSaveFile, Title: "保存图片", Extensions: []string{".jpg", ".png"}},
	{Action: ActionExit, Label: "退出"},
}

// Commands 按界面显示顺序返回操作表
func Commands() []Command {
	return append([]Command(nil), commands...)
}

var handlers = map[Action]func(s *Session, arg string) error{
	ActionLoadModel:    (*Session).LoadModel,
	ActionDetectImage:  (*Session).DetectImage,
	ActionDetectFolder: (*Session).DetectFolder,
	ActionDetectVideo:  (*Session).DetectVideo,
	ActionStartCamera:  func(s *Session, _ string) error { return s.StartCamera() },
	ActionStopCamera:   func(s *Session, _ string) error { return s.StopCamera() },
	ActionShowObjects:  func(s *Session, _ string) error { return s.ShowObjects() },
	ActionSave:         (*Session).Save,
	ActionExit:         func(s *Session, _ string) error { return s.Shutdown() },
}

// Dispatch 执行一个操作，arg 为选择对话框返回的路径
func (s *Session) Dispatch(action Action, arg string) error {
	handler, ok := handlers[action]
	if !ok {
		return fmt.Errorf("未知操作: %s", action)
	}
	return handler(s, arg)
}

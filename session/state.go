package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"
)

const (
	stateSection    = "LastState"
	keyDetection    = "detection_type"
	keyVideoPath    = "video_path"
	defaultStateINI = "config.ini"
)

// State 上次运行的检测状态
type State struct {
	DetectionType string
	VideoPath     string
}

// LoadState 读取状态文件，文件或分节不存在时返回空状态
func LoadState(path string) (State, error) {
	if path == "" {
		path = defaultStateINI
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return State{}, fmt.Errorf("读取状态文件 %s 失败: %w", path, err)
	}
	sec, err := cfg.GetSection(stateSection)
	if err != nil {
		return State{}, nil
	}
	return State{
		DetectionType: sec.Key(keyDetection).MustString(ModeImage.String()),
		VideoPath:     sec.Key(keyVideoPath).String(),
	}, nil
}

// SaveState 写入状态文件，保留文件中的其他分节
func SaveState(path string, st State) error {
	if path == "" {
		path = defaultStateINI
	}
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return fmt.Errorf("读取状态文件 %s 失败: %w", path, err)
	}

	sec := cfg.Section(stateSection)
	sec.Key(keyDetection).SetValue(st.DetectionType)
	sec.Key(keyVideoPath).SetValue(st.VideoPath)

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("保存状态文件 %s 失败: %w", path, err)
	}
	return nil
}

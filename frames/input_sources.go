package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// 文件夹模式支持的图片扩展名
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// IsImageFile 按扩展名判断是否为支持的图片（不区分大小写）
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListImages 列出目录下的图片文件，按文件名排序
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: 无法读取文件夹 %s: %w", ErrSourceUnavailable, dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadImage 读取并解码图片
func LoadImage(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return img, nil
}

// SaveImage 保存图片，格式由扩展名决定
func SaveImage(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建目录 %s: %w", dir, err)
		}
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("无法保存图像 %s: %w", path, err)
	}
	return nil
}

// ImageSource 单张图片
type ImageSource struct {
	path string
	done bool
}

// NewImageSource 创建单张图片输入源
func NewImageSource(path string) *ImageSource {
	return &ImageSource{path: path}
}

// Next 第一次返回图片，之后返回 io.EOF
func (s *ImageSource) Next(ctx context.Context) (image.Image, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return LoadImage(s.path)
}

func (s *ImageSource) Total() int    { return 1 }
func (s *ImageSource) Label() string { return s.path }
func (s *ImageSource) Close() error  { return nil }

// FolderSource 依次读取文件夹内的图片
type FolderSource struct {
	paths []string
	next  int
}

// OpenFolder 打开图片文件夹
func OpenFolder(dir string) (*FolderSource, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	return &FolderSource{paths: paths}, nil
}

// Next 解码下一张图片。单个文件打不开或解码失败都返回 ErrDecode，下次调用继续下一张
func (s *FolderSource) Next(ctx context.Context) (image.Image, error) {
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++
	img, err := LoadImage(path)
	if err != nil && !errors.Is(err, ErrDecode) {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, err
}

// Paths 文件夹内的图片路径
func (s *FolderSource) Paths() []string { return s.paths }

func (s *FolderSource) Total() int { return len(s.paths) }

// Label 最近一次读取的文件路径
func (s *FolderSource) Label() string {
	if s.next == 0 {
		return ""
	}
	return s.paths[s.next-1]
}

func (s *FolderSource) Close() error { return nil }

package frames

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"

	vidio "github.com/AlexEidt/Vidio"
)

// VideoSource 使用Vidio逐帧读取视频文件
type VideoSource struct {
	video *vidio.Video
	frame int
}

// OpenVideo 打开视频文件
func OpenVideo(path string) (*VideoSource, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: 无法打开视频文件 %s: %w", ErrSourceUnavailable, path, err)
	}
	return &VideoSource{video: video}, nil
}

// Next 读取下一帧，视频结束返回 io.EOF
func (s *VideoSource) Next(ctx context.Context) (image.Image, error) {
	if !s.video.Read() {
		return nil, io.EOF
	}
	s.frame++
	return frameBufferToImage(s.video.FrameBuffer(), s.video.Width(), s.video.Height())
}

// Total 视频总帧数
func (s *VideoSource) Total() int { return s.video.Frames() }

// FPS 视频帧率
func (s *VideoSource) FPS() float64 { return s.video.FPS() }

func (s *VideoSource) Label() string { return fmt.Sprintf("%s #%d", s.video.FileName(), s.frame) }

func (s *VideoSource) Close() error {
	s.video.Close()
	return nil
}

// frameBufferToImage 复制Vidio的RGBA帧缓冲区（缓冲区会被下一帧覆盖）
func frameBufferToImage(buf []byte, width, height int) (image.Image, error) {
	if len(buf) < width*height*4 {
		return nil, fmt.Errorf("%w: 帧数据长度 %d 小于 %dx%d", ErrDecode, len(buf), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, buf)
	return img, nil
}

// FourCCToCodec 将四字符编码标签转换为ffmpeg编码器名称
func FourCCToCodec(fourcc string) string {
	switch strings.ToLower(fourcc) {
	case "mp4v", "fmp4":
		return "mpeg4"
	case "avc1", "h264", "x264":
		return "libx264"
	case "hev1", "hvc1", "h265":
		return "libx265"
	case "mjpg":
		return "mjpeg"
	case "xvid":
		return "libxvid"
	default:
		return fourcc
	}
}

// VideoWriter 带检测框视频的输出，第一次写入时按该帧尺寸打开
type VideoWriter struct {
	path   string
	fps    float64
	codec  string
	writer *vidio.VideoWriter
	width  int
	height int
	buf    *image.RGBA
	frames int
}

// NewVideoWriter 创建视频输出
func NewVideoWriter(path string, fps float64, fourcc string) *VideoWriter {
	if fps <= 0 {
		fps = 30
	}
	return &VideoWriter{
		path:  path,
		fps:   fps,
		codec: FourCCToCodec(fourcc),
	}
}

// WriteFrame 写入一帧
func (w *VideoWriter) WriteFrame(img image.Image) error {
	if w.writer == nil {
		if err := w.open(img.Bounds().Dx(), img.Bounds().Dy()); err != nil {
			return err
		}
	}

	// 尺寸与首帧不同的帧按首帧尺寸裁剪或补黑边
	b := img.Bounds()
	draw.Draw(w.buf, w.buf.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(w.buf, w.buf.Bounds(), img, b.Min, draw.Src)

	if err := w.writer.Write(w.buf.Pix); err != nil {
		return fmt.Errorf("写入帧失败: %w", err)
	}
	w.frames++
	return nil
}

func (w *VideoWriter) open(width, height int) error {
	// yuv420p 要求宽高为偶数
	width &^= 1
	height &^= 1
	if width <= 0 || height <= 0 {
		return fmt.Errorf("无效的视频尺寸 %dx%d", width, height)
	}

	options := &vidio.Options{
		FPS:     w.fps,
		Quality: 0.5,
		Codec:   w.codec,
	}
	writer, err := vidio.NewVideoWriter(w.path, width, height, options)
	if err != nil {
		return fmt.Errorf("无法创建输出视频 %s: %w", w.path, err)
	}
	w.writer = writer
	w.width = width
	w.height = height
	w.buf = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// Frames 已写入的帧数
func (w *VideoWriter) Frames() int { return w.frames }

// Path 输出文件路径
func (w *VideoWriter) Path() string { return w.path }

// Close 关闭输出，未打开时无操作
func (w *VideoWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	w.writer.Close()
	w.writer = nil
	return nil
}

package frames

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/cyclopcam/logs"
)

// CameraOptions 摄像头参数
type CameraOptions struct {
	URL    string // 网络流地址，纯数字表示本地设备序号
	Width  int    // ffmpeg 输出宽度
	Height int    // ffmpeg 输出高度
}

// OpenCamera 打开摄像头：设备序号使用Vidio，其余地址通过ffmpeg管道读取
func OpenCamera(log logs.Log, opts CameraOptions) (Source, error) {
	if index, err := strconv.Atoi(strings.TrimSpace(opts.URL)); err == nil {
		return openDeviceCamera(index)
	}
	return openStreamCamera(log, opts)
}

// deviceCamera 本地摄像头
type deviceCamera struct {
	camera *vidio.Camera
}

func openDeviceCamera(index int) (*deviceCamera, error) {
	camera, err := vidio.NewCamera(index)
	if err != nil {
		return nil, fmt.Errorf("%w: 无法打开摄像头 %d: %w", ErrSourceUnavailable, index, err)
	}
	return &deviceCamera{camera: camera}, nil
}

func (c *deviceCamera) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.camera.Read() {
		return nil, fmt.Errorf("%w: 摄像头读取失败", ErrSourceUnavailable)
	}
	return frameBufferToImage(c.camera.FrameBuffer(), c.camera.Width(), c.camera.Height())
}

func (c *deviceCamera) Close() error {
	c.camera.Close()
	return nil
}

// streamCamera 通过ffmpeg把网络流解码为RGBA原始帧
type streamCamera struct {
	log      logs.Log
	url      string
	width    int
	height   int
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	buffer   []byte
	stopOnce sync.Once
}

func openStreamCamera(log logs.Log, opts CameraOptions) (*streamCamera, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: 无效的摄像头尺寸 %dx%d", ErrSourceUnavailable, opts.Width, opts.Height)
	}

	args := []string{
		"-i", opts.URL,
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-",
	}
	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: 创建stdout管道失败: %w", ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: 创建stderr管道失败: %w", ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: 启动FFmpeg进程失败: %w", ErrSourceUnavailable, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debugf("ffmpeg: %s", scanner.Text())
		}
	}()

	log.Infof("已连接摄像头 %s (%dx%d)", opts.URL, opts.Width, opts.Height)
	return &streamCamera{
		log:    log,
		url:    opts.URL,
		width:  opts.Width,
		height: opts.Height,
		cmd:    cmd,
		stdout: stdout,
		buffer: make([]byte, opts.Width*opts.Height*4),
	}, nil
}

// Next 读取一整帧；ctx 取消时结束ffmpeg进程使阻塞的读取返回
func (c *streamCamera) Next(ctx context.Context) (image.Image, error) {
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(c.stdout, c.buffer)
		done <- err
	}()

	select {
	case <-ctx.Done():
		c.stop()
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%w: 读取帧数据失败: %w", ErrSourceUnavailable, err)
		}
	}
	return frameBufferToImage(c.buffer, c.width, c.height)
}

func (c *streamCamera) stop() {
	c.stopOnce.Do(func() {
		if c.cmd.Process != nil {
			c.cmd.Process.Kill()
			c.cmd.Wait()
		}
	})
}

func (c *streamCamera) Close() error {
	c.stop()
	return nil
}

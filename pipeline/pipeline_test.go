package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/Cubiaa/obstacle-detect/frames"
	"github.com/Cubiaa/obstacle-detect/yolo"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// fakeDetector 每帧返回固定的检测结果，并记录收到的图像
type fakeDetector struct {
	detections []yolo.Detection
	names      []string
	seen       []image.Image
}

func (d *fakeDetector) Detect(img image.Image) (*yolo.DetectionResult, error) {
	d.seen = append(d.seen, img)
	return &yolo.DetectionResult{
		Detections: d.detections,
		Names:      d.names,
		Annotated:  img,
	}, nil
}

// listSource 依次返回预置的帧或错误
type listSource struct {
	items []any // image.Image 或 error
	next  int
}

func (s *listSource) Next(ctx context.Context) (image.Image, error) {
	if s.next >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.next]
	s.next++
	if err, ok := item.(error); ok {
		return nil, err
	}
	return item.(image.Image), nil
}

func (s *listSource) Total() int   { return len(s.items) }
func (s *listSource) Close() error { return nil }

type countingWriter struct {
	writes int
	closes int
}

func (w *countingWriter) WriteFrame(img image.Image) error {
	w.writes++
	return nil
}

func (w *countingWriter) Close() error {
	w.closes++
	return nil
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func TestProcessFlattensAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{200, 100, 50, 10})
	require.False(t, img.Opaque())

	det := &fakeDetector{}
	frame, err := Process(det, img, 0)
	require.NoError(t, err)
	require.True(t, isOpaque(frame.Original))
	require.True(t, isOpaque(det.seen[0]))

	r, g, b, a := frame.Original.At(1, 1).RGBA()
	require.Equal(t, uint32(0xffff), a)
	require.Equal(t, uint32(200), r>>8)
	require.Equal(t, uint32(100), g>>8)
	require.Equal(t, uint32(50), b>>8)
}

func TestProcessKeepsOpaqueImage(t *testing.T) {
	img := solid(10, 10)
	frame, err := Process(&fakeDetector{}, img, 1280)
	require.NoError(t, err)
	require.Same(t, img.(*image.RGBA), frame.Original.(*image.RGBA))
}

func TestProcessDownscale(t *testing.T) {
	det := &fakeDetector{}
	frame, err := Process(det, solid(2000, 1000), 1280)
	require.NoError(t, err)
	require.Equal(t, 1280, frame.Original.Bounds().Dx())
	require.Equal(t, 640, frame.Original.Bounds().Dy())
	require.Equal(t, frame.Original.Bounds(), det.seen[0].Bounds())

	frame, err = Process(det, solid(900, 3001), 1280)
	require.NoError(t, err)
	require.Equal(t, 1280, frame.Original.Bounds().Dy())
	require.InDelta(t, 900.0/3001.0, float64(frame.Original.Bounds().Dx())/1280.0, 1.0/1280.0)

	frame, err = Process(det, solid(1280, 720), 1280)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 1280, 720), frame.Original.Bounds())
}

func TestFitLongSide(t *testing.T) {
	w, h := FitLongSide(1920, 1080, 1280)
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)

	w, h = FitLongSide(10, 5000, 1280)
	require.Equal(t, 3, w)
	require.Equal(t, 1280, h)
}

func TestProcessCounts(t *testing.T) {
	det := &fakeDetector{
		names: []string{"person", "cone"},
		detections: []yolo.Detection{
			{ClassID: 0}, {ClassID: 0}, {ClassID: 1}, {ClassID: 0},
		},
	}
	frame, err := Process(det, solid(8, 8), 1280)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"person": 3, "cone": 1}, frame.Counts)
}

func TestRunnerStopAfterN(t *testing.T) {
	items := make([]any, 10)
	for i := range items {
		items[i] = solid(4, 4)
	}
	src := &listSource{items: items}
	det := &fakeDetector{}
	writer := &countingWriter{}
	runner := &Runner{Log: logs.NewTestingLog(t), Detector: det, Writer: writer}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var emitted []*Frame
	n, err := runner.Run(ctx, src, func(f *Frame) {
		emitted = append(emitted, f)
		if len(emitted) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, emitted, 3)
	require.Len(t, det.seen, 3)
	require.Equal(t, 3, emitted[2].Index)
	require.Equal(t, 10, emitted[2].Total)

	require.Equal(t, 3, writer.writes)
	require.Equal(t, 1, writer.closes)
}

func TestRunnerRunsToEOF(t *testing.T) {
	src := &listSource{items: []any{solid(2, 2), solid(2, 2)}}
	writer := &countingWriter{}
	runner := &Runner{Log: logs.NewTestingLog(t), Detector: &fakeDetector{}, Writer: writer}

	n, err := runner.Run(context.Background(), src, func(*Frame) {})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, writer.closes)
}

func TestRunnerSkipsDecodeErrors(t *testing.T) {
	decodeErr := frames.ErrDecode
	src := &listSource{items: []any{solid(2, 2), decodeErr, solid(2, 2)}}

	var skipped []error
	runner := &Runner{
		Log:              logs.NewTestingLog(t),
		Detector:         &fakeDetector{},
		SkipDecodeErrors: true,
		OnSkip:           func(label string, err error) { skipped = append(skipped, err) },
	}
	n, err := runner.Run(context.Background(), src, func(*Frame) {})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, skipped, 1)
}

func TestRunnerDecodeErrorEndsVideo(t *testing.T) {
	src := &listSource{items: []any{solid(2, 2), frames.ErrDecode, solid(2, 2)}}
	writer := &countingWriter{}
	runner := &Runner{Log: logs.NewTestingLog(t), Detector: &fakeDetector{}, Writer: writer}

	n, err := runner.Run(context.Background(), src, func(*Frame) {})
	require.ErrorIs(t, err, frames.ErrDecode)
	require.Equal(t, 1, n)
	require.Equal(t, 1, writer.closes)
}

func TestRunnerSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := &listSource{items: []any{boom}}
	runner := &Runner{Log: logs.NewTestingLog(t), Detector: &fakeDetector{}}
	n, err := runner.Run(context.Background(), src, func(*Frame) {})
	require.ErrorIs(t, err, boom)
	require.Zero(t, n)
}

package yolo

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// makeOutput 构造 [1, 4+nc, n] 格式的模型输出
func makeOutput(numClasses int, boxes [][]float32) ([]float32, []int64) {
	features := 4 + numClasses
	n := len(boxes)
	data := make([]float32, features*n)
	for i, b := range boxes {
		for f := 0; f < features; f++ {
			data[f*n+i] = b[f]
		}
	}
	return data, []int64{1, int64(features), int64(n)}
}

func TestParseDetections(t *testing.T) {
	names := []string{"person", "car"}
	data, shape := makeOutput(2, [][]float32{
		{100, 100, 50, 80, 0.9, 0.1},
		{300, 200, 40, 40, 0.05, 0.7},
		{10, 10, 5, 5, 0.1, 0.2}, // 低于阈值
	})

	dets := parseDetections(data, shape, 0.25, names)
	require.Len(t, dets, 2)

	require.Equal(t, "person", dets[0].Class)
	require.Equal(t, 0, dets[0].ClassID)
	require.InDelta(t, 0.9, dets[0].Score, 1e-6)
	require.Equal(t, [4]float32{75, 60, 125, 140}, dets[0].Box)

	require.Equal(t, "car", dets[1].Class)
	require.Equal(t, [4]float32{280, 180, 320, 220}, dets[1].Box)
}

func TestParseDetectionsTransposed(t *testing.T) {
	// [1, n, 4+nc]，n=8
	boxes := make([][]float32, 8)
	for i := range boxes {
		boxes[i] = []float32{float32(10 * i), 10, 4, 4, 0}
	}
	boxes[3][4] = 0.8

	data := make([]float32, 0, 8*5)
	for _, b := range boxes {
		data = append(data, b...)
	}
	dets := parseDetections(data, []int64{1, 8, 5}, 0.5, []string{"cone"})
	require.Len(t, dets, 1)
	require.Equal(t, "cone", dets[0].Class)
	require.Equal(t, [4]float32{28, 8, 32, 12}, dets[0].Box)
}

func TestParseDetectionsManyClassesFewBoxes(t *testing.T) {
	// 80类、小输入尺寸时候选框数少于 4+80
	names := DefaultClasses()
	box := make([]float32, 4+len(names))
	copy(box, []float32{20, 20, 10, 10})
	box[4+2] = 0.7
	boxes := [][]float32{box}
	for i := 0; i < 20; i++ {
		boxes = append(boxes, make([]float32, 4+len(names)))
	}
	data, shape := makeOutput(len(names), boxes)
	require.Equal(t, []int64{1, 84, 21}, shape)

	dets := parseDetections(data, shape, 0.5, names)
	require.Len(t, dets, 1)
	require.Equal(t, names[2], dets[0].Class)
	require.Equal(t, [4]float32{15, 15, 25, 25}, dets[0].Box)
}

func TestOutputLayout(t *testing.T) {
	f, n, tr := outputLayout(84, 8400, 80)
	require.Equal(t, []any{84, 8400, false}, []any{f, n, tr})
	f, n, tr = outputLayout(8400, 84, 80)
	require.Equal(t, []any{84, 8400, true}, []any{f, n, tr})
	// 类别数对不上时按较小的一维
	f, n, tr = outputLayout(8400, 6, 80)
	require.Equal(t, []any{6, 8400, true}, []any{f, n, tr})
}

func TestParseDetectionsBadShape(t *testing.T) {
	require.Nil(t, parseDetections([]float32{1, 2, 3}, []int64{3}, 0.1, nil))
	require.Nil(t, parseDetections(make([]float32, 12), []int64{1, 4, 3}, 0.1, nil))
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	require.InDelta(t, 1.0, iou(a, a), 1e-4)
	require.InDelta(t, 0.0, iou(a, [4]float32{20, 20, 30, 30}), 1e-6)
	// 重叠一半：交集50，并集150
	require.InDelta(t, 1.0/3.0, iou(a, [4]float32{5, 0, 15, 10}), 1e-4)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []Detection{
		{Box: [4]float32{0, 0, 10, 10}, Score: 0.6, ClassID: 0},
		{Box: [4]float32{1, 1, 11, 11}, Score: 0.9, ClassID: 0},
		{Box: [4]float32{1, 1, 11, 11}, Score: 0.5, ClassID: 1}, // 不同类别不互相抑制
		{Box: [4]float32{50, 50, 60, 60}, Score: 0.4, ClassID: 0},
	}
	kept := nonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 3)
	require.InDelta(t, 0.9, kept[0].Score, 1e-6)
	require.Equal(t, 1, kept[1].ClassID)
	require.Equal(t, [4]float32{50, 50, 60, 60}, kept[2].Box)

	require.Empty(t, nonMaxSuppression(nil, 0.45))
}

func TestPreprocessImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 255
		img.Pix[i+1] = 0
		img.Pix[i+2] = 51
		img.Pix[i+3] = 255
	}
	data := preprocessImage(img, 2, 2, nil)
	require.Len(t, data, 3*2*2)
	for i := 0; i < 4; i++ {
		require.InDelta(t, 1.0, data[i], 1e-3)
		require.InDelta(t, 0.0, data[4+i], 1e-3)
		require.InDelta(t, 0.2, data[8+i], 1e-2)
	}

	buf := make([]float32, 100)
	reused := preprocessImage(img, 2, 2, buf)
	require.Len(t, reused, 12)
	require.Same(t, &buf[0], &reused[0])
}

func TestCountObjects(t *testing.T) {
	r := &DetectionResult{
		Names: []string{"person", "car"},
		Detections: []Detection{
			{ClassID: 0}, {ClassID: 1}, {ClassID: 0}, {ClassID: 7},
		},
	}
	require.Equal(t, map[string]int{"person": 2, "car": 1, "class_7": 1}, r.CountObjects())

	var empty *DetectionResult
	require.Empty(t, empty.CountObjects())

	require.Equal(t, []ObjectCount{
		{Name: "person", Count: 2},
		{Name: "car", Count: 1},
		{Name: "class_7", Count: 1},
	}, SortedCounts(r.CountObjects()))
}

func TestParseMetadataNames(t *testing.T) {
	names := parseMetadataNames(`{0: 'person', 1: "traffic light", 3: 'dog'}`)
	require.Equal(t, []string{"person", "traffic light", "", "dog"}, names)
	require.Nil(t, parseMetadataNames("not a dict"))
}

func TestLoadClassesFromYAML(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("names:\n  - cone\n  - barrier\n"), 0644))
	names, err := loadClassesFromYAML(list)
	require.NoError(t, err)
	require.Equal(t, []string{"cone", "barrier"}, names)

	mapping := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(mapping, []byte("names:\n  1: barrier\n  0: cone\n"), 0644))
	names, err = loadClassesFromYAML(mapping)
	require.NoError(t, err)
	require.Equal(t, []string{"cone", "barrier"}, names)

	classes := filepath.Join(dir, "classes.yaml")
	require.NoError(t, os.WriteFile(classes, []byte("classes: [a, b, c]\n"), 0644))
	names, err = loadClassesFromYAML(classes)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, names)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("nc: 2\n"), 0644))
	_, err = loadClassesFromYAML(empty)
	require.Error(t, err)

	_, err = loadClassesFromYAML(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestDrawDetectionsOnImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	opts := DefaultDetectionOptions().WithBoxColor("green").WithDrawLabels(false).WithLineWidth(1)

	out := drawDetectionsOnImage(src, []Detection{
		{Box: [4]float32{10, 10, 50, 50}, Score: 0.9, Class: "person"},
	}, opts)

	require.Equal(t, color.RGBA{0, 255, 0, 255}, out.RGBAAt(10, 30))
	require.Equal(t, color.RGBA{0, 255, 0, 255}, out.RGBAAt(30, 50))
	require.Equal(t, color.RGBA{}, out.RGBAAt(30, 30))
	// 原图不被修改
	require.Equal(t, color.RGBA{}, src.RGBAAt(10, 30))
}

func TestDrawDetectionsClassColor(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 40))
	out := drawDetectionsOnImage(src, []Detection{
		{Box: [4]float32{5, 5, 30, 30}, ClassID: 3, Class: "x"},
	}, DefaultDetectionOptions().WithDrawLabels(false))
	require.Equal(t, ClassColor(3), out.RGBAAt(5, 20))
}

func TestDrawDetectionsDisabled(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 40))
	opts := DefaultDetectionOptions().WithDrawBoxes(false).WithDrawLabels(false).WithLabelColor("black")
	out := drawDetectionsOnImage(src, []Detection{
		{Box: [4]float32{5, 5, 30, 30}, Class: "x"},
	}, opts)
	require.Equal(t, src.Pix, out.Pix)
}

func TestLabelFace(t *testing.T) {
	require.Equal(t, font.Face(basicfont.Face7x13), labelFace(0))

	small := labelFace(12)
	defer small.Close()
	large := labelFace(24)
	defer large.Close()
	require.Greater(t, large.Metrics().Height, small.Metrics().Height)
}

func TestDrawLabelAboveBox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 200))
	opts := DefaultDetectionOptions().WithBoxColor("red").WithDrawBoxes(false)
	out := drawDetectionsOnImage(src, []Detection{
		{Box: [4]float32{50, 100, 150, 180}, Score: 0.9, Class: "cone"},
	}, opts)
	// 标签底色画在框的上方
	require.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(51, 99))
	require.Equal(t, color.RGBA{}, out.RGBAAt(51, 60))

	out = drawDetectionsOnImage(src, []Detection{
		{Box: [4]float32{50, 100, 150, 180}, Score: 0.9, Class: "cone"},
	}, opts.WithFontSize(0))
	require.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(51, 99))
}

func TestParseColor(t *testing.T) {
	require.Equal(t, &color.RGBA{255, 165, 0, 255}, parseColor("Orange"))
	require.Nil(t, parseColor("chartreuse"))
}

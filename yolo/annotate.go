package yolo

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var parseLabelFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// labelFace 按字号创建标签字体，字号无效时使用内置点阵字体
func labelFace(size int) font.Face {
	if size <= 0 {
		return basicfont.Face7x13
	}
	f, err := parseLabelFont()
	if err != nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

// 按类别配色的调色板
var classPalette = []color.RGBA{
	{255, 56, 56, 255}, {255, 157, 151, 255}, {255, 112, 31, 255}, {255, 178, 29, 255},
	{207, 210, 49, 255}, {72, 249, 10, 255}, {146, 204, 23, 255}, {61, 219, 134, 255},
	{26, 147, 52, 255}, {0, 212, 187, 255}, {44, 153, 168, 255}, {0, 194, 255, 255},
	{52, 69, 147, 255}, {100, 115, 255, 255}, {0, 24, 236, 255}, {132, 56, 255, 255},
	{82, 0, 133, 255}, {203, 56, 255, 255}, {255, 149, 200, 255}, {255, 55, 199, 255},
}

// ClassColor 某个类别的默认框颜色
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return classPalette[classID%len(classPalette)]
}

// parseColor 解析颜色名称，无法识别时返回nil
func parseColor(colorStr string) *color.RGBA {
	switch strings.ToLower(colorStr) {
	case "red":
		return &color.RGBA{255, 0, 0, 255}
	case "green":
		return &color.RGBA{0, 255, 0, 255}
	case "blue":
		return &color.RGBA{0, 0, 255, 255}
	case "yellow":
		return &color.RGBA{255, 255, 0, 255}
	case "cyan":
		return &color.RGBA{0, 255, 255, 255}
	case "magenta":
		return &color.RGBA{255, 0, 255, 255}
	case "white":
		return &color.RGBA{255, 255, 255, 255}
	case "black":
		return &color.RGBA{0, 0, 0, 255}
	case "orange":
		return &color.RGBA{255, 165, 0, 255}
	case "purple":
		return &color.RGBA{128, 0, 128, 255}
	default:
		return nil
	}
}

// drawDetectionsOnImage 在原图副本上绘制检测结果，原图不受影响
func drawDetectionsOnImage(img image.Image, detections []Detection, options *DetectionOptions) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)

	if options == nil {
		options = DefaultDetectionOptions()
	}

	var fixedColor *color.RGBA
	if options.BoxColor != "" {
		fixedColor = parseColor(options.BoxColor)
	}
	labelColor := color.RGBA{255, 255, 255, 255}
	if c := parseColor(options.LabelColor); c != nil {
		labelColor = *c
	}
	var face font.Face
	if options.DrawLabels && len(detections) > 0 {
		face = labelFace(options.FontSize)
		defer face.Close()
	}

	for _, d := range detections {
		box := [4]float32{
			d.Box[0] - float32(bounds.Min.X),
			d.Box[1] - float32(bounds.Min.Y),
			d.Box[2] - float32(bounds.Min.X),
			d.Box[3] - float32(bounds.Min.Y),
		}
		boxColor := ClassColor(d.ClassID)
		if fixedColor != nil {
			boxColor = *fixedColor
		}

		if options.DrawBoxes {
			drawBBox(out, box, boxColor, options.LineWidth)
		}
		if options.DrawLabels {
			label := fmt.Sprintf("%s %.2f", d.Class, d.Score)
			drawLabel(out, face, label, int(box[0]), int(box[1]), boxColor, labelColor)
		}
	}
	return out
}

// drawBBox 画矩形框
func drawBBox(img draw.Image, bbox [4]float32, lineColor color.Color, lineWidth int) {
	bounds := img.Bounds()
	width, height := bounds.Max.X, bounds.Max.Y
	if width <= 0 || height <= 0 {
		return
	}

	x1 := int(max(0, min(float32(width-1), bbox[0])))
	y1 := int(max(0, min(float32(height-1), bbox[1])))
	x2 := int(max(0, min(float32(width-1), bbox[2])))
	y2 := int(max(0, min(float32(height-1), bbox[3])))

	if lineWidth <= 0 {
		lineWidth = 1
	}

	for i := 0; i < lineWidth; i++ {
		// 上边和下边
		for x := x1; x <= x2; x++ {
			if y1+i < height {
				img.Set(x, y1+i, lineColor)
			}
			if y2-i >= 0 {
				img.Set(x, y2-i, lineColor)
			}
		}
		// 左边和右边
		for y := y1; y <= y2; y++ {
			if x1+i < width {
				img.Set(x1+i, y, lineColor)
			}
			if x2-i >= 0 {
				img.Set(x2-i, y, lineColor)
			}
		}
	}
}

// drawLabel 在框的左上角绘制带底色的标签，上方放不下时画在框内
func drawLabel(img *image.RGBA, face font.Face, label string, x, top int, background, foreground color.RGBA) {
	const padding = 2
	bounds := img.Bounds()

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	boxW := font.MeasureString(face, label).Ceil() + padding*2
	boxH := ascent + metrics.Descent.Ceil() + padding*2

	if x+boxW > bounds.Max.X {
		x = bounds.Max.X - boxW
	}
	if x < 0 {
		x = 0
	}
	yPos := top - boxH
	if yPos < 0 {
		yPos = max(top, 0)
	}
	if yPos+boxH > bounds.Max.Y {
		yPos = bounds.Max.Y - boxH
	}

	rect := image.Rect(x, yPos, x+boxW, yPos+boxH).Intersect(bounds)
	draw.Draw(img, rect, image.NewUniform(background), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(foreground),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(x + padding),
			Y: fixed.I(yPos + padding + ascent),
		},
	}
	d.DrawString(label)
}

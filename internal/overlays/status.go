package overlays

import (
	"fmt"
	"image"
	"image/color"

	"github.com/keagan/movescope/internal/landmark"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxBackground = color.RGBA{A: 153} // 60% black
	textColor     = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	detectedColor = color.RGBA{G: 0xff, A: 0xff}
	missingColor  = color.RGBA{R: 0xff, A: 0xff}
)

const (
	boxMargin  = 10
	boxPadding = 6
	lineHeight = 16
)

type statusLine struct {
	text  string
	color color.RGBA
}

func (r *Renderer) drawStatus(img *image.RGBA, frame landmark.PoseFrame, st Status) {
	face := basicfont.Face7x13

	poseLine := statusLine{"Pose: NOT DETECTED", missingColor}
	confLine := statusLine{"Conf: -", textColor}
	if frame.Detected() {
		conf := frame.Pose.Confidence()
		poseLine = statusLine{"Pose: DETECTED", detectedColor}
		confLine = statusLine{fmt.Sprintf("Conf: %.2f", conf), r.ColorFor(conf)}
	}
	lines := []statusLine{
		{fmt.Sprintf("Frame %d/%d", st.Frame+1, st.Total), textColor},
		{fmt.Sprintf("FPS: %.1f", st.FPS), textColor},
		poseLine,
		confLine,
	}

	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l.text).Ceil(); w > width {
			width = w
		}
	}
	b := img.Bounds()
	box := image.Rect(
		b.Max.X-boxMargin-width-2*boxPadding,
		b.Min.Y+boxMargin,
		b.Max.X-boxMargin,
		b.Min.Y+boxMargin+len(lines)*lineHeight+2*boxPadding,
	).Intersect(b)
	draw.Draw(img, box, image.NewUniform(boxBackground), image.Point{}, draw.Over)

	for i, l := range lines {
		drawText(img, face, l.text, l.color, box.Min.X+boxPadding, box.Min.Y+boxPadding+(i+1)*lineHeight-4)
	}

	if !frame.Detected() {
		drawText(img, face, "No pose detected", missingColor, b.Min.X+boxMargin, b.Min.Y+boxMargin+lineHeight)
	}
}

func drawText(img *image.RGBA, face font.Face, s string, c color.RGBA, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

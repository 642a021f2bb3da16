package overlays

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/keagan/movescope/internal/landmark"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// ErrInvalidConfig is wrapped by Config.Validate failures.
var ErrInvalidConfig = errors.New("invalid overlay config")

// Config controls skeleton rendering.
type Config struct {
	// Landmarks below this visibility are not drawn, nor are segments
	// touching them.
	VisibilityThreshold float64 `yaml:"visibility_threshold"`
	HighConfidence      float64 `yaml:"high_confidence"`
	MediumConfidence    float64 `yaml:"medium_confidence"`

	LineWidth    float64 `yaml:"line_width"`
	MarkerRadius float64 `yaml:"marker_radius"`

	// StatusBox adds the frame/pose panel and the "No pose detected" caption.
	StatusBox bool `yaml:"status_box"`

	Palette Palette `yaml:"palette"`
}

// Palette holds the three confidence colors as hex strings.
type Palette struct {
	High   string `yaml:"high"`
	Medium string `yaml:"medium"`
	Low    string `yaml:"low"`
}

// DefaultConfig returns green/yellow/orange bands at 0.8 and 0.6.
func DefaultConfig() Config {
	return Config{
		VisibilityThreshold: 0.5,
		HighConfidence:      0.8,
		MediumConfidence:    0.6,
		LineWidth:           2,
		MarkerRadius:        4,
		Palette: Palette{
			High:   "#00FF00",
			Medium: "#FFFF00",
			Low:    "#FFA500",
		},
	}
}

// Validate checks thresholds and colors.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"visibility_threshold": c.VisibilityThreshold,
		"high_confidence":      c.HighConfidence,
		"medium_confidence":    c.MediumConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0,1]", ErrInvalidConfig, name)
		}
	}
	if c.MediumConfidence > c.HighConfidence {
		return fmt.Errorf("%w: medium_confidence exceeds high_confidence", ErrInvalidConfig)
	}
	if c.LineWidth <= 0 || c.MarkerRadius <= 0 {
		return fmt.Errorf("%w: line_width and marker_radius must be positive", ErrInvalidConfig)
	}
	for _, hex := range []string{c.Palette.High, c.Palette.Medium, c.Palette.Low} {
		if _, err := ParseHexColor(hex); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Status is the per-frame information shown in the status box.
type Status struct {
	Frame int
	Total int
	FPS   float64
}

// Renderer draws a confidence-colored skeleton onto frames. It keeps no
// state between frames apart from a reusable rasterizer, so one Renderer
// must not be shared between goroutines.
type Renderer struct {
	cfg    Config
	high   color.RGBA
	medium color.RGBA
	low    color.RGBA
	z      vector.Rasterizer
}

// New validates cfg and returns a Renderer.
func New(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Renderer{cfg: cfg}
	r.high, _ = ParseHexColor(cfg.Palette.High)
	r.medium, _ = ParseHexColor(cfg.Palette.Medium)
	r.low, _ = ParseHexColor(cfg.Palette.Low)
	return r, nil
}

// ColorFor returns the band color for a confidence value.
func (r *Renderer) ColorFor(confidence float64) color.RGBA {
	switch {
	case confidence >= r.cfg.HighConfidence:
		return r.high
	case confidence >= r.cfg.MediumConfidence:
		return r.medium
	default:
		return r.low
	}
}

// Draw renders frame's skeleton onto img in place. A gap frame leaves img
// untouched unless the status box is enabled and st is non-nil.
func (r *Renderer) Draw(img *image.RGBA, frame landmark.PoseFrame, st *Status) {
	if frame.Detected() {
		r.drawSkeleton(img, frame.Pose)
	}
	if r.cfg.StatusBox && st != nil {
		r.drawStatus(img, frame, *st)
	}
}

func (r *Renderer) drawSkeleton(img *image.RGBA, pose *landmark.Pose) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	pt := func(lm landmark.Landmark) (float64, float64) {
		return lm.X * w, lm.Y * h
	}
	thr := r.cfg.VisibilityThreshold

	for _, c := range landmark.Connections {
		a, bb := pose[c.A], pose[c.B]
		if a.Visibility < thr || bb.Visibility < thr {
			continue
		}
		ax, ay := pt(a)
		bx, by := pt(bb)
		r.line(img, ax, ay, bx, by, r.ColorFor(math.Min(a.Visibility, bb.Visibility)))
	}

	for _, lm := range pose {
		if lm.Visibility < thr {
			continue
		}
		x, y := pt(lm)
		r.disc(img, x, y, r.cfg.MarkerRadius, r.ColorFor(lm.Visibility))
	}
}

// line fills the rectangle of width LineWidth around segment a-b.
func (r *Renderer) line(img *image.RGBA, ax, ay, bx, by float64, c color.RGBA) {
	dx, dy := bx-ax, by-ay
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	half := r.cfg.LineWidth / 2
	nx, ny := -dy/length*half, dx/length*half

	r.fillPolygon(img, []point{
		{ax + nx, ay + ny},
		{bx + nx, by + ny},
		{bx - nx, by - ny},
		{ax - nx, ay - ny},
	}, c)
}

const discSegments = 24

func (r *Renderer) disc(img *image.RGBA, cx, cy, radius float64, c color.RGBA) {
	pts := make([]point, discSegments)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / discSegments
		pts[i] = point{cx + radius*math.Cos(a), cy + radius*math.Sin(a)}
	}
	r.fillPolygon(img, pts, c)
}

type point struct{ x, y float64 }

// fillPolygon rasterizes pts, given relative to img.Bounds().Min, over
// their bounding box only.
func (r *Renderer) fillPolygon(img *image.RGBA, pts []point, c color.RGBA) {
	b := img.Bounds()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.x), math.Max(maxX, p.x)
		minY, maxY = math.Min(minY, p.y), math.Max(maxY, p.y)
	}
	box := image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1,
	).Add(b.Min).Intersect(b)
	if box.Empty() {
		return
	}

	off := box.Min.Sub(b.Min)
	ox, oy := float64(off.X), float64(off.Y)
	r.z.Reset(box.Dx(), box.Dy())
	r.z.DrawOp = draw.Over
	r.z.MoveTo(float32(pts[0].x-ox), float32(pts[0].y-oy))
	for _, p := range pts[1:] {
		r.z.LineTo(float32(p.x-ox), float32(p.y-oy))
	}
	r.z.ClosePath()
	r.z.Draw(img, box, image.NewUniform(c), image.Point{})
}

// ParseHexColor parses "#RRGGBB".
func ParseHexColor(s string) (color.RGBA, error) {
	var c color.RGBA
	if len(s) != 7 || s[0] != '#' {
		return c, fmt.Errorf("color %q must be #RRGGBB", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("color %q: %w", s, err)
	}
	c.A = 0xff
	return c, nil
}

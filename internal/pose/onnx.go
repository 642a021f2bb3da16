package pose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"sync"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names of the MediaPipe pose landmark model export.
const (
	onnxInput        = "input_1"
	onnxLandmarks    = "Identity"
	onnxPoseFlag     = "Identity_1"
	valuesPerPoint   = 5
	landmarkOutWidth = 39 * valuesPerPoint
)

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs > 0 {
		return nil
	}
	envRefs = 0
	return ort.DestroyEnvironment()
}

// ONNXDetector runs the pose landmark model in-process.
type ONNXDetector struct {
	logger    zerolog.Logger
	cfg       Config
	modelPath string
	session   *ort.DynamicAdvancedSession

	mu       sync.Mutex
	tracking bool
}

// NewONNXDetector loads the model selected by cfg.
func NewONNXDetector(logger zerolog.Logger, cfg Config) (*ONNXDetector, error) {
	modelPath := cfg.ResolvedModelPath()
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	if err := acquireEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputNames := []string{onnxInput}
	outputNames := []string{onnxLandmarks, onnxPoseFlag}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("failed to create pose session: %w", err)
	}

	logger.Info().
		Str("model", modelPath).
		Int("input_size", cfg.InputSize).
		Strs("outputs", outputNames).
		Msg("pose model loaded")

	return &ONNXDetector{
		logger:    logger.With().Str("component", "pose-onnx").Logger(),
		cfg:       cfg,
		modelPath: modelPath,
		session:   sess,
	}, nil
}

// Detect runs one inference. Frames are processed in order; after a
// detection the tracking threshold applies to the next frame.
func (d *ONNXDetector) Detect(ctx context.Context, f Frame) (*landmark.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", f.Index)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.cfg.InputSize
	lb := letterbox(f.Image, size)

	input, err := ort.NewTensor(ort.NewShape(1, int64(size), int64(size), 3), lb.tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	landmarksOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, landmarkOutWidth))
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark tensor: %w", err)
	}
	defer landmarksOut.Destroy()

	flagOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create flag tensor: %w", err)
	}
	defer flagOut.Destroy()

	if err := d.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{landmarksOut, flagOut}); err != nil {
		return nil, fmt.Errorf("pose inference failed: %w", err)
	}

	score := float64(flagOut.GetData()[0])
	if score < 0 || score > 1 {
		score = sigmoid(score)
	}
	threshold := d.cfg.MinDetectionConfidence
	if d.tracking {
		threshold = d.cfg.MinTrackingConfidence
	}
	if score < threshold {
		d.tracking = false
		return nil, nil
	}
	d.tracking = true

	pose := lb.decode(landmarksOut.GetData())
	d.logger.Trace().
		Int("frame", f.Index).
		Float64("score", score).
		Float64("confidence", pose.Confidence()).
		Msg("pose detected")
	return pose, nil
}

// Close releases the session and, for the last detector, the runtime.
func (d *ONNXDetector) Close() error {
	d.logger.Info().Str("model", d.modelPath).Msg("closing pose model session")
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			return err
		}
		d.session = nil
	}
	return releaseEnvironment()
}

// letterboxed holds a model input and the mapping back to the frame.
type letterboxed struct {
	tensor  []float32
	size    int
	offX    float64
	offY    float64
	scaledW float64
	scaledH float64
}

// letterbox resizes img to fit a size×size square keeping aspect ratio,
// pads with black and normalizes RGB to [0,1] in NHWC order.
func letterbox(img image.Image, size int) *letterboxed {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	scale := math.Min(float64(size)/w, float64(size)/h)
	sw := int(math.Round(w * scale))
	sh := int(math.Round(h * scale))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}

	resized := resize.Resize(uint(sw), uint(sh), img, resize.Bilinear)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	offX := (size - sw) / 2
	offY := (size - sh) / 2
	draw.Draw(canvas, image.Rect(offX, offY, offX+sw, offY+sh), resized, resized.Bounds().Min, draw.Src)

	data := make([]float32, size*size*3)
	idx := 0
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			data[idx] = float32(row[x*4]) / 255.0
			data[idx+1] = float32(row[x*4+1]) / 255.0
			data[idx+2] = float32(row[x*4+2]) / 255.0
			idx += 3
		}
	}

	return &letterboxed{
		tensor:  data,
		size:    size,
		offX:    float64(offX),
		offY:    float64(offY),
		scaledW: float64(sw),
		scaledH: float64(sh),
	}
}

// toFrame maps a point in input pixels to normalized frame coordinates.
func (l *letterboxed) toFrame(x, y float64) (float64, float64) {
	return (x - l.offX) / l.scaledW, (y - l.offY) / l.scaledH
}

// decode reads the first 33 points of the raw output. Depth is scaled
// like x.
func (l *letterboxed) decode(raw []float32) *landmark.Pose {
	var p landmark.Pose
	for i := 0; i < landmark.Count; i++ {
		v := raw[i*valuesPerPoint : (i+1)*valuesPerPoint]
		x, y := l.toFrame(float64(v[0]), float64(v[1]))
		p[i] = landmark.Landmark{
			X:          x,
			Y:          y,
			Z:          float64(v[2]) / l.scaledW,
			Visibility: sigmoid(float64(v[3])),
		}
	}
	return &p
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

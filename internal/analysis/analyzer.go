package analysis

import (
	"fmt"

	"github.com/keagan/movescope/internal/landmark"
	"github.com/rs/zerolog"
)

// Metrics is the movement part of an analysis.
type Metrics struct {
	MovementType MovementType
	Intensity    float64
	MeanVelocity float64
	Activity     BodyPartActivity
	Smoothness   float64
}

// Report is everything the analyzer derives from one sequence.
type Report struct {
	Movement     Metrics
	Rhythm       Rhythm
	ValidSamples int
}

// Analyzer runs the velocity, classification, activity, smoothness and
// rhythm passes over a complete sequence.
type Analyzer struct {
	logger     zerolog.Logger
	cfg        Config
	classifier *Classifier
}

// New validates cfg and returns an Analyzer.
func New(logger zerolog.Logger, cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{
		logger:     logger.With().Str("component", "analysis").Logger(),
		cfg:        cfg,
		classifier: NewClassifier(cfg),
	}, nil
}

// Config returns the configuration the analyzer was built with.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze scores seq. Rhythm timing uses seq.FPS.
func (a *Analyzer) Analyze(seq *landmark.Sequence) (*Report, error) {
	if seq == nil {
		return nil, fmt.Errorf("sequence is nil")
	}

	samples := Velocities(seq)
	cls := a.classifier.Classify(samples, seq)
	valid := len(ValidValues(samples))

	report := &Report{
		Movement: Metrics{
			MovementType: cls.Type,
			Intensity:    cls.Intensity,
			MeanVelocity: cls.MeanVelocity,
			Activity:     ScoreActivity(seq, a.cfg),
			Smoothness:   Smoothness(samples, a.cfg),
		},
		Rhythm:       DetectRhythm(samples, seq.FPS, a.cfg),
		ValidSamples: valid,
	}

	a.logger.Debug().
		Int("frames", seq.Len()).
		Int("valid_samples", valid).
		Str("movement", string(cls.Type)).
		Float64("intensity", cls.Intensity).
		Bool("rhythm", report.Rhythm.HasRhythm).
		Msg("sequence analyzed")

	return report, nil
}

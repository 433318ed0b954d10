package detector

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the per-signal thresholds. Presence signals (absence,
// multiplicity, objects) confirm fast and are never throttled; attention
// signals (focus, drowsiness, audio) are noisy and use longer confirm
// windows plus a shared throttle between emissions.
type Config struct {
	// FaceAbsentThreshold is how long the face must be continuously
	// missing before a FaceAbsent violation fires. The window restarts on
	// each emission, so a continuous absence produces one event per
	// window.
	FaceAbsentThreshold time.Duration `yaml:"face_absent_threshold"`

	// FocusLostThreshold is how long the gaze must stay off-center before
	// a FocusLost violation fires.
	FocusLostThreshold time.Duration `yaml:"focus_lost_threshold"`

	// ViolationThrottle is the minimum spacing between consecutive
	// throttled emissions. Shared across FocusLost, Drowsiness and
	// BackgroundAudio.
	ViolationThrottle time.Duration `yaml:"violation_throttle"`

	// LookingAwayThreshold is the gaze-offset magnitude beyond which the
	// candidate counts as looking away.
	LookingAwayThreshold float64 `yaml:"looking_away_threshold"`

	// EyeClosureWindow is the ring buffer capacity of per-tick eye-closure
	// flags. Drowsiness is never evaluated until the window is full.
	EyeClosureWindow int `yaml:"eye_closure_window"`

	// DrowsinessRatio is the closed-eye fraction of the window at or above
	// which the drowsiness timer runs.
	DrowsinessRatio float64 `yaml:"drowsiness_ratio"`

	// DrowsinessThreshold is how long the closed-ratio condition must hold
	// before a Drowsiness violation fires.
	DrowsinessThreshold time.Duration `yaml:"drowsiness_threshold"`

	// NoiseFloor is the audio level above which ambient sound counts as
	// background noise.
	NoiseFloor float64 `yaml:"noise_floor"`

	// BackgroundAudioThreshold is how long the audio level must stay above
	// the noise floor before a BackgroundAudio violation fires.
	BackgroundAudioThreshold time.Duration `yaml:"background_audio_threshold"`

	// ObjectConfidence is the minimum detection confidence for an
	// unauthorized item to count. Strictly greater-than.
	ObjectConfidence float64 `yaml:"object_confidence"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		FaceAbsentThreshold:      3 * time.Second,
		FocusLostThreshold:       22500 * time.Millisecond,
		ViolationThrottle:        3 * time.Second,
		LookingAwayThreshold:     0.4,
		EyeClosureWindow:         10,
		DrowsinessRatio:          0.6,
		DrowsinessThreshold:      3 * time.Second,
		NoiseFloor:               50,
		BackgroundAudioThreshold: 5 * time.Second,
		ObjectConfidence:         0.6,
	}
}

// rawConfig mirrors Config for YAML decoding with human-readable duration
// strings ("3s", "22.5s"). Pointer fields distinguish "omitted, keep the
// default" from an explicit zero.
type rawConfig struct {
	FaceAbsentThreshold      *string  `yaml:"face_absent_threshold"`
	FocusLostThreshold       *string  `yaml:"focus_lost_threshold"`
	ViolationThrottle        *string  `yaml:"violation_throttle"`
	LookingAwayThreshold     *float64 `yaml:"looking_away_threshold"`
	EyeClosureWindow         *int     `yaml:"eye_closure_window"`
	DrowsinessRatio          *float64 `yaml:"drowsiness_ratio"`
	DrowsinessThreshold      *string  `yaml:"drowsiness_threshold"`
	NoiseFloor               *float64 `yaml:"noise_floor"`
	BackgroundAudioThreshold *string  `yaml:"background_audio_threshold"`
	ObjectConfidence         *float64 `yaml:"object_confidence"`
}

func setDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*dst = d
	return nil
}

// UnmarshalYAML decodes the detector section, leaving fields absent from
// the document at their prior values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if err := setDuration(&c.FaceAbsentThreshold, raw.FaceAbsentThreshold, "face_absent_threshold"); err != nil {
		return err
	}
	if err := setDuration(&c.FocusLostThreshold, raw.FocusLostThreshold, "focus_lost_threshold"); err != nil {
		return err
	}
	if err := setDuration(&c.ViolationThrottle, raw.ViolationThrottle, "violation_throttle"); err != nil {
		return err
	}
	if err := setDuration(&c.DrowsinessThreshold, raw.DrowsinessThreshold, "drowsiness_threshold"); err != nil {
		return err
	}
	if err := setDuration(&c.BackgroundAudioThreshold, raw.BackgroundAudioThreshold, "background_audio_threshold"); err != nil {
		return err
	}
	if raw.LookingAwayThreshold != nil {
		c.LookingAwayThreshold = *raw.LookingAwayThreshold
	}
	if raw.EyeClosureWindow != nil {
		c.EyeClosureWindow = *raw.EyeClosureWindow
	}
	if raw.DrowsinessRatio != nil {
		c.DrowsinessRatio = *raw.DrowsinessRatio
	}
	if raw.NoiseFloor != nil {
		c.NoiseFloor = *raw.NoiseFloor
	}
	if raw.ObjectConfidence != nil {
		c.ObjectConfidence = *raw.ObjectConfidence
	}
	return nil
}

// disallowedLabels are the object classes that count as unauthorized items
// when seen with sufficient confidence.
var disallowedLabels = map[string]bool{
	"cell phone": true,
	"phone":      true,
	"book":       true,
	"laptop":     true,
	"tablet":     true,
	"remote":     true,
	"keyboard":   true,
	"mouse":      true,
	"tv":         true,
	"monitor":    true,
	"computer":   true,
}

package session

// Base integrity score deductions per violation, applied per occurrence.
const (
	focusLostPenalty        = 5
	faceAbsentPenalty       = 10
	multipleFacesPenalty    = 15
	unauthorizedItemPenalty = 20
)

// ScoreWeights extends the base scoring formula with optional deductions for
// drowsiness and background audio. The zero value disables both, leaving only
// the four mandatory kinds.
type ScoreWeights struct {
	Drowsiness      int `yaml:"drowsiness"`
	BackgroundAudio int `yaml:"background_audio"`
}

// Score computes the integrity score for the given counters: 100 minus the
// weighted deductions, clamped to [0,100]. The score is a pure function of
// the counters and is recomputed from scratch on every counter change.
func Score(v Violations, w ScoreWeights) int {
	score := 100 -
		focusLostPenalty*v.FocusLost -
		faceAbsentPenalty*v.FaceAbsent -
		multipleFacesPenalty*v.MultipleFaces -
		unauthorizedItemPenalty*v.UnauthorizedItems -
		w.Drowsiness*v.Drowsiness -
		w.BackgroundAudio*v.BackgroundAudio
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package policy

import "vui/internal/audio"

const (
	BargeInRMSThreshold = 0.05
	BargeInChunkCount   = 5
)

// BargeInDetector counts consecutive loud chunks while the assistant is speaking.
type BargeInDetector struct {
	threshold float64
	required  int
	loud      int
}

func NewBargeInDetector(threshold float64, required int) *BargeInDetector {
	if threshold <= 0 {
		threshold = BargeInRMSThreshold
	}
	if required <= 0 {
		required = BargeInChunkCount
	}
	return &BargeInDetector{threshold: threshold, required: required}
}

// Feed returns true exactly once per run of required consecutive loud chunks.
func (d *BargeInDetector) Feed(samples []float32) bool {
	if audio.RMS(samples) < d.threshold {
		d.loud = 0
		return false
	}
	d.loud++
	if d.loud < d.required {
		return false
	}
	d.loud = 0
	return true
}

func (d *BargeInDetector) Reset()     { d.loud = 0 }
func (d *BargeInDetector) Count() int { return d.loud }

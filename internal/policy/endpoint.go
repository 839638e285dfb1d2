// Package policy holds the energy heuristics that decide when a user turn ends
// and when the user is talking over the assistant.
package policy

import (
	"math"

	"vui/internal/audio"
)

const (
	SpeechRMSThreshold  = 0.01
	MinUtteranceSamples = 16000
	SilenceChunkLimit   = 90
)

// EndpointConfig overrides the endpointing thresholds; zero values use the defaults.
type EndpointConfig struct {
	SpeechThreshold     float64
	MinUtteranceSamples int
	SilenceChunkLimit   int
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = SpeechRMSThreshold
	}
	if c.MinUtteranceSamples <= 0 {
		c.MinUtteranceSamples = MinUtteranceSamples
	}
	if c.SilenceChunkLimit <= 0 {
		c.SilenceChunkLimit = SilenceChunkLimit
	}
	return c
}

// Decision is the endpointer's verdict for one chunk.
type Decision int

const (
	Continue Decision = iota
	UtteranceReady
	SilenceReset
)

func (d Decision) String() string {
	switch d {
	case UtteranceReady:
		return "utterance_ready"
	case SilenceReset:
		return "silence_reset"
	default:
		return "continue"
	}
}

// Endpointer accumulates the utterance buffer for one listening turn.
type Endpointer struct {
	cfg EndpointConfig

	buffer     []float32
	silenceRun int
	hasSpeech  bool
	levelAvg   float64
}

func NewEndpointer(cfg EndpointConfig) *Endpointer {
	return &Endpointer{cfg: cfg.withDefaults()}
}

// Feed applies one chunk. On UtteranceReady the caller must Take the buffer;
// on SilenceReset the buffer and silence run have already been cleared.
func (e *Endpointer) Feed(samples []float32) Decision {
	rms := audio.RMS(samples)
	e.levelAvg = e.levelAvg*0.8 + math.Min(rms*10, 1)*0.2

	if rms >= e.cfg.SpeechThreshold {
		e.hasSpeech = true
		e.silenceRun = 0
	} else {
		e.silenceRun++
	}

	e.buffer = append(e.buffer, samples...)

	if len(e.buffer) <= e.cfg.MinUtteranceSamples || e.silenceRun <= e.cfg.SilenceChunkLimit {
		return Continue
	}
	if e.hasSpeech {
		return UtteranceReady
	}
	e.buffer = e.buffer[:0]
	e.silenceRun = 0
	return SilenceReset
}

// Take hands off the accumulated utterance and resets the turn state.
func (e *Endpointer) Take() []float32 {
	utterance := e.buffer
	e.buffer = nil
	e.silenceRun = 0
	e.hasSpeech = false
	return utterance
}

// Reset clears the buffer and silence run and sets the speech flag.
func (e *Endpointer) Reset(hasSpeech bool) {
	e.buffer = nil
	e.silenceRun = 0
	e.hasSpeech = hasSpeech
}

func (e *Endpointer) Buffered() int     { return len(e.buffer) }
func (e *Endpointer) SilenceRun() int   { return e.silenceRun }
func (e *Endpointer) HasSpeech() bool   { return e.hasSpeech }
func (e *Endpointer) LevelAvg() float64 { return e.levelAvg }

// DecayLevel smooths the UI meter toward zero when no chunk arrived.
func (e *Endpointer) DecayLevel() {
	e.levelAvg *= 0.8
}

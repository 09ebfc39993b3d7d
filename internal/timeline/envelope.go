package timeline

import "math"

// Envelope describes a fade ramp: FadeFrames at each end of a segment,
// Peak in the middle.
type Envelope struct {
	FadeFrames int     `json:"fadeFrames"`
	Peak       float64 `json:"peak"`
}

// At evaluates the envelope for an absolute frame inside seg.
func (e Envelope) At(frame int, seg Segment) float64 {
	return e.Peak * FadeEnvelope(frame, seg.StartFrame, seg.Frames, e.FadeFrames)
}

// Smoothstep is t²(3−2t) with t clamped to [0,1].
func Smoothstep(t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	return t * t * (3 - 2*t)
}

// FadeEnvelope returns opacity in [0,1]: 0 at the segment edges, 1 once
// fadeFrames have passed from both edges. Frames outside the segment are 0.
// Segments shorter than two fades take the lower of both ramps, so values
// rise then fall and never leave [0,1].
func FadeEnvelope(frame, start, length, fadeFrames int) float64 {
	if length <= 0 {
		return 0
	}
	local := frame - start
	if local < 0 || local > length {
		return 0
	}
	if fadeFrames <= 0 {
		return 1
	}
	f := float64(fadeFrames)
	in := Smoothstep(float64(local) / f)
	out := Smoothstep(float64(length-local) / f)
	return math.Min(in, out)
}

// AudioFadeEnvelope scales FadeEnvelope to [0, peak].
func AudioFadeEnvelope(frame, start, length, fadeFrames int, peak float64) float64 {
	if peak <= 0 {
		return 0
	}
	return peak * FadeEnvelope(frame, start, length, fadeFrames)
}

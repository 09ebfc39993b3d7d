// Package timeline turns clip records into a frame-indexed composition
// layout: fixed intro blocks first, then one segment per clip in input
// order. Everything here is pure.
package timeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"montage/internal/models"
	"montage/internal/pkg/errors"
)

// IntroBlock is a fixed-length leading block (title card, platform bumper).
type IntroBlock struct {
	Name   string `json:"name"`
	Frames int    `json:"frames"`
}

// Segment places one clip on the composition timeline.
type Segment struct {
	Index      int               `json:"index"`
	Clip       models.ClipRecord `json:"clip"`
	StartFrame int               `json:"startFrame"`
	Frames     int               `json:"durationInFrames"`
}

// EndFrame is the first frame after the segment.
func (s Segment) EndFrame() int { return s.StartFrame + s.Frames }

// Layout is the result of Compose.
type Layout struct {
	Intro       []IntroBlock `json:"intro"`
	IntroFrames int          `json:"introFrames"`
	Segments    []Segment    `json:"segments"`
	// Skipped lists clips with zero frames; they occupy no time and are not rendered.
	Skipped     []string `json:"skipped,omitempty"`
	TotalFrames int      `json:"totalFrames"`
}

// Compose lays out intro blocks followed by clips. Every start frame is the
// running sum of what precedes it and TotalFrames is the grand sum. A
// negative clip or block length fails with an INVALID_DURATION error.
func Compose(clips []models.ClipRecord, intro []IntroBlock) (Layout, error) {
	var l Layout

	cursor := 0
	for i, b := range intro {
		if b.Frames < 0 {
			name := b.Name
			if name == "" {
				name = fmt.Sprintf("intro[%d]", i)
			}
			return Layout{}, errors.InvalidDuration(name, b.Frames)
		}
		cursor += b.Frames
	}
	l.Intro = append(l.Intro, intro...)
	l.IntroFrames = cursor

	l.Segments = make([]Segment, 0, len(clips))
	for i, c := range clips {
		if c.DurationInFrames < 0 {
			return Layout{}, errors.InvalidDuration(c.ClipName, c.DurationInFrames)
		}
		if c.DurationInFrames == 0 {
			l.Skipped = append(l.Skipped, c.ClipName)
			continue
		}
		l.Segments = append(l.Segments, Segment{
			Index:      i,
			Clip:       c,
			StartFrame: cursor,
			Frames:     c.DurationInFrames,
		})
		cursor += c.DurationInFrames
	}

	l.TotalFrames = cursor
	return l, nil
}

// ResolveDurations fills missing DurationInFrames from the seconds field or
// from the trim window. Explicit frame counts, including negative ones, are
// left untouched for Compose to judge. A trim window with both ends set is
// always checked, whatever the duration source.
func ResolveDurations(clips []models.ClipRecord, fps int) ([]models.ClipRecord, error) {
	out := make([]models.ClipRecord, len(clips))
	for i, c := range clips {
		out[i] = c

		trimFrames, hasTrim := 0, c.BeginTime != "" && c.EndTime != ""
		if hasTrim {
			frames, err := TrimFrames(c.BeginTime, c.EndTime, fps)
			if err != nil {
				return nil, errors.Wrap(err, "timeline.resolve", fmt.Sprintf("clip %q has an invalid trim window", c.ClipName)).
					WithField("clip", c.ClipName)
			}
			trimFrames = frames
		}
		if c.DurationInFrames != 0 {
			continue
		}

		switch {
		case math.IsNaN(c.DurationSeconds) || math.IsInf(c.DurationSeconds, 0) || c.DurationSeconds < 0:
			return nil, errors.InvalidDuration(c.ClipName, -1).
				WithField("seconds", fmt.Sprint(c.DurationSeconds))
		case c.DurationSeconds > 0:
			out[i].DurationInFrames = models.FramesFromSeconds(c.DurationSeconds, fps)
		case hasTrim:
			out[i].DurationInFrames = trimFrames
		}
	}
	return out, nil
}

// ParseIntroBlocks reads a comma separated list of frame lengths, e.g. "80,80,80".
func ParseIntroBlocks(spec string) ([]IntroBlock, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "0" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	blocks := make([]IntroBlock, 0, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Validationf("intro block %d: %q is not a frame count", i, p)
		}
		if n < 0 {
			return nil, errors.InvalidDuration(fmt.Sprintf("intro[%d]", i), n)
		}
		blocks = append(blocks, IntroBlock{Name: fmt.Sprintf("intro-%d", i+1), Frames: n})
	}
	return blocks, nil
}

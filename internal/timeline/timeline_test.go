package timeline

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"montage/internal/models"
	"montage/internal/pkg/errors"
)

func clips(frames ...int) []models.ClipRecord {
	out := make([]models.ClipRecord, len(frames))
	for i, f := range frames {
		out[i] = models.ClipRecord{ClipName: string(rune('a' + i)), DurationInFrames: f}
	}
	return out
}

func TestComposeIntroThenClips(t *testing.T) {
	layout, err := Compose(clips(90, 120, 60), []IntroBlock{{Name: "intro", Frames: 240}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	wantStarts := []int{240, 330, 450}
	if len(layout.Segments) != len(wantStarts) {
		t.Fatalf("expected %d segments, got %d", len(wantStarts), len(layout.Segments))
	}
	for i, want := range wantStarts {
		if got := layout.Segments[i].StartFrame; got != want {
			t.Errorf("segment %d start = %d, want %d", i, got, want)
		}
	}
	if layout.TotalFrames != 510 {
		t.Errorf("TotalFrames = %d, want 510", layout.TotalFrames)
	}
	if layout.IntroFrames != 240 {
		t.Errorf("IntroFrames = %d, want 240", layout.IntroFrames)
	}
}

func TestComposeCanonicalIntro(t *testing.T) {
	intro, err := ParseIntroBlocks("80,80,80")
	if err != nil {
		t.Fatal(err)
	}
	layout, err := Compose(clips(100), intro)
	if err != nil {
		t.Fatal(err)
	}
	if layout.Segments[0].StartFrame != 240 || layout.TotalFrames != 340 {
		t.Errorf("unexpected layout %+v", layout)
	}
}

func TestComposeRejectsNegative(t *testing.T) {
	tests := []struct {
		name  string
		clips []models.ClipRecord
		intro []IntroBlock
	}{
		{"negative clip", clips(10, -1), nil},
		{"negative intro", clips(10), []IntroBlock{{Frames: -80}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.clips, tt.intro)
			if !errors.Is(err, errors.ErrInvalidDuration) {
				t.Fatalf("expected INVALID_DURATION, got %v", err)
			}
		})
	}
}

func TestComposeSkipsEmptyClips(t *testing.T) {
	layout, err := Compose(clips(10, 0, 20), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(layout.Segments) != 2 || layout.Segments[1].StartFrame != 10 {
		t.Errorf("unexpected segments %+v", layout.Segments)
	}
	if len(layout.Skipped) != 1 || layout.Skipped[0] != "b" {
		t.Errorf("Skipped = %v", layout.Skipped)
	}
	if layout.Segments[1].Index != 2 {
		t.Errorf("segment keeps input index, got %d", layout.Segments[1].Index)
	}
}

func TestComposeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(12)
		frames := make([]int, n)
		sum := 0
		for i := range frames {
			frames[i] = 1 + rng.Intn(500)
			sum += frames[i]
		}
		var intro []IntroBlock
		for i := rng.Intn(4); i > 0; i-- {
			f := rng.Intn(120)
			intro = append(intro, IntroBlock{Frames: f})
			sum += f
		}

		layout, err := Compose(clips(frames...), intro)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}
		if layout.TotalFrames != sum {
			t.Fatalf("iter %d: total %d, want %d", iter, layout.TotalFrames, sum)
		}
		prev := -1
		for i, s := range layout.Segments {
			if s.StartFrame <= prev {
				t.Fatalf("iter %d: start frames not increasing at %d", iter, i)
			}
			if i > 0 && layout.Segments[i-1].EndFrame() != s.StartFrame {
				t.Fatalf("iter %d: gap or overlap before segment %d", iter, i)
			}
			prev = s.StartFrame
		}
	}
}

func TestFadeEnvelopeShape(t *testing.T) {
	const start, length, fade = 100, 200, 30

	if v := FadeEnvelope(start, start, length, fade); v != 0 {
		t.Errorf("value at start = %v, want 0", v)
	}
	if v := FadeEnvelope(start+length, start, length, fade); v != 0 {
		t.Errorf("value at end = %v, want 0", v)
	}
	for f := start + fade; f <= start+length-fade; f++ {
		if v := FadeEnvelope(f, start, length, fade); v != 1 {
			t.Fatalf("value at %d = %v, want 1", f, v)
		}
	}
	if v := FadeEnvelope(start-5, start, length, fade); v != 0 {
		t.Errorf("before segment = %v, want 0", v)
	}
	mid := FadeEnvelope(start+fade/2, start, length, fade)
	if math.Abs(mid-0.5) > 1e-9 {
		t.Errorf("smoothstep midpoint = %v, want 0.5", mid)
	}
}

func TestShortSegmentStaysBounded(t *testing.T) {
	for _, length := range []int{1, 7, 20, 45, 59} {
		const fade = 30
		prev := 0.0
		rising := true
		for f := 0; f <= length; f++ {
			v := FadeEnvelope(f, 0, length, fade)
			if v < 0 || v > 1 {
				t.Fatalf("length %d frame %d: %v out of bounds", length, f, v)
			}
			if rising && v < prev {
				rising = false
			}
			if !rising && v > prev+1e-12 {
				t.Fatalf("length %d frame %d: ramp rose again after falling", length, f)
			}
			prev = v
		}
	}
}

func TestAudioEnvelopeScalesToPeak(t *testing.T) {
	env := Envelope{FadeFrames: 15, Peak: 0.2}
	seg := Segment{StartFrame: 240, Frames: 90}

	if v := env.At(240+45, seg); math.Abs(v-0.2) > 1e-12 {
		t.Errorf("middle = %v, want 0.2", v)
	}
	for f := 240; f <= 330; f++ {
		if v := env.At(f, seg); v < 0 || v > 0.2 {
			t.Fatalf("frame %d: %v outside [0, 0.2]", f, v)
		}
	}
	if AudioFadeEnvelope(250, 240, 90, 15, 0) != 0 {
		t.Error("zero peak should silence")
	}
	if v := AudioFadeEnvelope(240+7, 240, 10, 15, 0.2); v < 0 || v > 0.2 {
		t.Errorf("short audio segment out of bounds: %v", v)
	}
}

func TestTimecodes(t *testing.T) {
	d, err := ParseTimecode("01:02:03")
	if err != nil || d != time.Hour+2*time.Minute+3*time.Second {
		t.Fatalf("ParseTimecode = %v, %v", d, err)
	}
	if FormatTimecode(d) != "01:02:03" {
		t.Errorf("FormatTimecode = %s", FormatTimecode(d))
	}

	frames, err := TrimFrames("00:00:05", "00:00:09", 25)
	if err != nil || frames != 100 {
		t.Errorf("TrimFrames = %d, %v", frames, err)
	}
	if _, err := TrimFrames("00:00:09", "00:00:05", 25); !errors.IsValidation(err) {
		t.Errorf("reversed trim should be a validation error, got %v", err)
	}
	for _, bad := range []string{"5", "00:61:00", "aa:bb:cc", ""} {
		if _, err := ParseTimecode(bad); err == nil {
			t.Errorf("ParseTimecode(%q) should fail", bad)
		}
	}
}

func TestResolveDurations(t *testing.T) {
	in := []models.ClipRecord{
		{ClipName: "explicit", DurationInFrames: 50},
		{ClipName: "seconds", DurationSeconds: 2.01},
		{ClipName: "trim", BeginTime: "00:00:10", EndTime: "00:00:12"},
		{ClipName: "negative", DurationInFrames: -3},
	}
	out, err := ResolveDurations(in, 25)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{50, 51, 50, -3}
	for i, w := range want {
		if out[i].DurationInFrames != w {
			t.Errorf("%s = %d, want %d", out[i].ClipName, out[i].DurationInFrames, w)
		}
	}
	if in[1].DurationInFrames != 0 {
		t.Error("input slice must not be mutated")
	}

	_, err = ResolveDurations([]models.ClipRecord{{ClipName: "nan", DurationSeconds: math.NaN()}}, 25)
	if !errors.Is(err, errors.ErrInvalidDuration) {
		t.Errorf("NaN seconds should be INVALID_DURATION, got %v", err)
	}
}

func TestResolveDurationsRejectsInvertedTrim(t *testing.T) {
	tests := []struct {
		name string
		clip models.ClipRecord
	}{
		{"explicit frames", models.ClipRecord{ClipName: "a", DurationInFrames: 50, BeginTime: "00:00:20", EndTime: "00:00:10"}},
		{"seconds", models.ClipRecord{ClipName: "b", DurationSeconds: 3, BeginTime: "00:00:20", EndTime: "00:00:10"}},
		{"trim only", models.ClipRecord{ClipName: "c", BeginTime: "00:00:20", EndTime: "00:00:10"}},
		{"malformed end", models.ClipRecord{ClipName: "d", DurationInFrames: 50, BeginTime: "00:00:20", EndTime: "00:99:10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveDurations([]models.ClipRecord{tt.clip}, 25)
			if !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := errors.GetFields(err)["clip"]; got != tt.clip.ClipName {
				t.Errorf("clip field = %v", got)
			}
		})
	}

	// A single open end is not a window and is left alone.
	out, err := ResolveDurations([]models.ClipRecord{{ClipName: "e", DurationInFrames: 50, BeginTime: "00:00:20"}}, 25)
	if err != nil || out[0].DurationInFrames != 50 {
		t.Errorf("open trim = %+v, %v", out, err)
	}
}

func TestParseIntroBlocks(t *testing.T) {
	if blocks, err := ParseIntroBlocks(""); err != nil || blocks != nil {
		t.Errorf("empty spec = %v, %v", blocks, err)
	}
	if _, err := ParseIntroBlocks("80,x"); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := ParseIntroBlocks("80,-1"); !errors.Is(err, errors.ErrInvalidDuration) {
		t.Errorf("expected INVALID_DURATION, got %v", err)
	}
}

func TestCommentCues(t *testing.T) {
	cues := CommentCues("Great clip § So funny § wow", "ana § bo", 100)
	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d", len(cues))
	}
	for i, c := range cues {
		if c.Frames != 33 || c.StartFrame != i*33 {
			t.Errorf("cue %d = %+v", i, c)
		}
	}
	if cues[0].Text != "Great clip" || cues[1].Author != "bo" {
		t.Errorf("unexpected cue text %+v", cues[:2])
	}
	if cues[2].Author != missingAuthor {
		t.Errorf("padding author = %q", cues[2].Author)
	}

	if got := CommentCues("", "", 40); len(got) != 1 || got[0].Text != missingComment || got[0].Frames != 40 {
		t.Errorf("placeholder cue = %+v", got)
	}
	if CommentCues("a§b§c", "", 2) != nil {
		t.Error("cues shorter than a frame should be dropped")
	}
}

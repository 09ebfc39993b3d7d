package renderer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	contracts "montage/internal/contracts/renderer/v1"
	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/timeline"
)

// FFmpegEngine renders the montage with a local ffmpeg: every intro block
// and clip is encoded to a normalized part, then the parts are joined with
// the concat demuxer. Audio fades follow the smoothstep envelope exactly;
// video fades use ffmpeg's linear fade filter.
type FFmpegEngine struct {
	bin           string
	scratch       string
	compositionID string
	width         int
	height        int
	log           *logger.Logger
}

type FFmpegOptions struct {
	Bin           string
	ScratchDir    string
	CompositionID string
	Width, Height int
	Log           *logger.Logger
}

func NewFFmpegEngine(opts FFmpegOptions) *FFmpegEngine {
	if opts.Bin == "" {
		opts.Bin = "ffmpeg"
	}
	if opts.CompositionID == "" {
		opts.CompositionID = "MasterComposition"
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &FFmpegEngine{
		bin:           opts.Bin,
		scratch:       opts.ScratchDir,
		compositionID: opts.CompositionID,
		width:         opts.Width,
		height:        opts.Height,
		log:           opts.Log.WithComponent("ffmpeg"),
	}
}

// PrepareBundle checks the binary and the intro assets and allocates a
// scratch dir for the parts.
func (e *FFmpegEngine) PrepareBundle(_ context.Context, spec BundleSpec) (Bundle, error) {
	if _, err := exec.LookPath(e.bin); err != nil {
		return Bundle{}, errors.WrapWithCode(err, errors.CodeBundle, "ffmpeg.bundle", "ffmpeg binary not found").
			WithField("bin", e.bin)
	}
	if spec.Entry != "" {
		if _, err := os.Stat(spec.Entry); err != nil {
			return Bundle{}, errors.WrapWithCode(err, errors.CodeBundle, "ffmpeg.bundle", "intro entry not found").
				WithField("entry", spec.Entry)
		}
	}
	id := uuid.NewString()
	dir := filepath.Join(e.scratchRoot(), "bundle-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Bundle{}, errors.WrapWithCode(err, errors.CodeBundle, "ffmpeg.bundle", "create bundle dir")
	}
	return Bundle{ID: id, Dir: dir, ServeURL: spec.Entry}, nil
}

// ListCompositions reports the single montage composition.
func (e *FFmpegEngine) ListCompositions(_ context.Context, _ Bundle, props contracts.InputProps) ([]contracts.Composition, error) {
	return []contracts.Composition{{
		ID:               e.compositionID,
		DurationInFrames: props.TotalFrames,
		FPS:              props.FPS,
		Width:            e.width,
		Height:           e.height,
	}}, nil
}

func (e *FFmpegEngine) Render(ctx context.Context, in RenderInput, onProgress ProgressFunc) (Output, error) {
	dir := in.Bundle.Dir
	if dir == "" {
		dir = in.ScratchDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Output{}, errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.render", "create scratch dir")
	}

	parts := e.plan(in.Props, in.Bundle.ServeURL, dir)
	rendered, encoded := 0, 0
	report := func(r, enc int) {
		if onProgress != nil {
			onProgress(r, enc)
		}
	}

	for _, p := range parts {
		base := rendered
		err := e.run(ctx, p.stream(e, in.Codec, in.Props.FPS), func(frame int) {
			report(base+min(frame, p.frames), encoded)
		})
		if err != nil {
			return Output{}, err
		}
		rendered = base + p.frames
		encoded = rendered
		report(rendered, encoded)
	}

	list := filepath.Join(dir, "parts.txt")
	if err := writeConcatList(list, parts); err != nil {
		return Output{}, errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.render", "write concat list")
	}

	outDir := in.ScratchDir
	if outDir == "" {
		outDir = dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Output{}, errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.render", "create output dir")
	}
	out := filepath.Join(outDir, in.JobID+"-montage.mp4")
	join := ffmpeg.Input(list, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(out, ffmpeg.KwArgs{"c": "copy", "movflags": "+faststart"}).
		OverWriteOutput()
	if err := e.run(ctx, join, nil); err != nil {
		return Output{}, err
	}
	return Output{Path: out}, nil
}

// Cleanup removes the bundle's parts.
func (e *FFmpegEngine) Cleanup(_ context.Context, b Bundle) error {
	if b.Dir == "" {
		return nil
	}
	return os.RemoveAll(b.Dir)
}

func (e *FFmpegEngine) scratchRoot() string {
	if e.scratch != "" {
		return e.scratch
	}
	return os.TempDir()
}

// part is one normalized piece of the montage.
type part struct {
	path   string
	frames int
	// source is a file, URL or lavfi graph; lavfi marks the latter.
	source string
	lavfi  bool
	image  bool
	seek   float64
	audio  bool
	peak   float64
	fadeV  int
	fadeA  int
}

func (e *FFmpegEngine) plan(props contracts.InputProps, introImage, dir string) []part {
	fps := props.FPS
	if fps <= 0 {
		fps = 25
	}
	if props.IntroImage != "" {
		introImage = props.IntroImage
	}

	var parts []part
	for i, b := range props.Intro {
		if b.DurationInFrames <= 0 {
			continue
		}
		p := part{
			path:   filepath.Join(dir, fmt.Sprintf("%03d-intro.mp4", i)),
			frames: b.DurationInFrames,
		}
		if introImage != "" {
			p.source, p.image = introImage, true
		} else {
			p.source = fmt.Sprintf("color=c=black:s=%dx%d:r=%d", e.width, e.height, fps)
			p.lavfi = true
		}
		parts = append(parts, p)
	}

	for i, s := range props.Segments {
		if s.DurationInFrames <= 0 {
			continue
		}
		seek := 0.0
		if s.BeginTime != "" {
			if d, err := timeline.ParseTimecode(s.BeginTime); err == nil {
				seek = d.Seconds()
			}
		}
		parts = append(parts, part{
			path:   filepath.Join(dir, fmt.Sprintf("%03d-clip.mp4", len(props.Intro)+i)),
			frames: s.DurationInFrames,
			source: s.RenderSrc,
			seek:   seek,
			audio:  s.Audible(),
			peak:   props.AudioPeakVolume,
			fadeV:  props.VisualFadeFrames,
			fadeA:  props.AudioFadeFrames,
		})
	}
	return parts
}

// stream builds the ffmpeg graph of one part. The silent lavfi input fills
// the audio track of intro blocks and mute clips so every part concatenates.
func (p part) stream(e *FFmpegEngine, codec string, fps int) *ffmpeg.Stream {
	if fps <= 0 {
		fps = 25
	}
	secs := float64(p.frames) / float64(fps)

	inArgs := ffmpeg.KwArgs{}
	switch {
	case p.lavfi:
		inArgs["f"] = "lavfi"
	case p.image:
		inArgs["loop"] = 1
	case p.seek > 0:
		inArgs["ss"] = formatSeconds(p.seek)
	}
	video := ffmpeg.Input(p.source, inArgs)

	vf := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", e.width, e.height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", e.width, e.height),
		"setsar=1",
		fmt.Sprintf("fps=%d", fps),
	}
	if fade := min(p.fadeV, p.frames/2); fade > 0 {
		d := formatSeconds(float64(fade) / float64(fps))
		vf = append(vf,
			fmt.Sprintf("fade=t=in:st=0:d=%s", d),
			fmt.Sprintf("fade=t=out:st=%s:d=%s", formatSeconds(float64(p.frames-fade)/float64(fps)), d),
		)
	}

	out := ffmpeg.KwArgs{
		"vf":      strings.Join(vf, ","),
		"c:v":     videoCodec(codec),
		"pix_fmt": "yuv420p",
		"r":       fps,
		"c:a":     "aac",
		"ar":      48000,
		"ac":      2,
		"t":       formatSeconds(secs),
	}

	if p.audio {
		out["af"] = "aresample=48000,aformat=channel_layouts=stereo," +
			VolumeExpr(float64(p.fadeA)/float64(fps), secs, p.peak)
		return video.Output(p.path, out).OverWriteOutput()
	}

	silence := ffmpeg.Input("anullsrc=r=48000:cl=stereo", ffmpeg.KwArgs{"f": "lavfi"})
	return ffmpeg.Output([]*ffmpeg.Stream{video, silence}, p.path, out).OverWriteOutput()
}

// VolumeExpr is an ffmpeg volume filter applying peak × min(in, out) with
// smoothstep ramps of fade seconds over a part of length seconds.
func VolumeExpr(fade, length, peak float64) string {
	if peak <= 0 {
		return "volume=0"
	}
	if fade <= 0 {
		return "volume=" + formatSeconds(peak)
	}
	f := formatSeconds(fade)
	in := fmt.Sprintf("clip(t/%s,0,1)", f)
	out := fmt.Sprintf("clip((%s-t)/%s,0,1)", formatSeconds(length), f)
	ramp := func(x string) string { return fmt.Sprintf("%s*%s*(3-2*%s)", x, x, x) }
	return fmt.Sprintf("volume=eval=frame:volume='%s*min(%s,%s)'", formatSeconds(peak), ramp(in), ramp(out))
}

func videoCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "h265", "hevc":
		return "libx265"
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "prores":
		return "prores_ks"
	default:
		return "libx264"
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

func writeConcatList(path string, parts []part) error {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p.path, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// run executes one graph with -progress on stdout and reports frame=
// values. ctx cancellation kills the process.
func (e *FFmpegEngine) run(ctx context.Context, s *ffmpeg.Stream, onFrame func(int)) error {
	args := append([]string{"-hide_banner", "-nostats", "-progress", "pipe:1"}, s.GetArgs()...)
	cmd := exec.CommandContext(ctx, e.bin, args...)

	stderr := &tailWriter{max: maxErrorBody}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.run", "attach progress pipe")
	}

	e.log.Debug("ffmpeg start", "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.run", "start ffmpeg")
	}
	ParseProgress(stdout, onFrame)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return errors.Aborted("rendering")
		}
		tail := lastLine(stderr.String())
		return errors.WrapWithCode(err, errors.CodeRenderEngine, "ffmpeg.run", "ffmpeg: "+errors.Sanitize(tail)).
			WithField("body", stderr.String())
	}
	return nil
}

// ParseProgress reads ffmpeg -progress output and calls onFrame for every
// frame= line.
func ParseProgress(r io.Reader, onFrame func(int)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || k != "frame" || onFrame == nil {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			onFrame(n)
		}
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf []byte
	max int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailWriter) String() string { return string(t.buf) }

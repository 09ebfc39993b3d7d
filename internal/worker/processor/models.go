package processor

import (
	"fmt"
	"sync"
	"time"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/timeline"
)

// Stage is a render job state. Stages only move forward; Failed can be
// entered from any non-terminal stage and nothing leaves it.
type Stage string

const (
	StageCreated    Stage = "created"
	StageVerifying  Stage = "verifying"
	StageBundling   Stage = "bundling"
	StageRendering  Stage = "rendering"
	StagePersisting Stage = "persisting"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageCreated:    0,
	StageVerifying:  1,
	StageBundling:   2,
	StageRendering:  3,
	StagePersisting: 4,
	StageCompleted:  5,
}

func (s Stage) Terminal() bool { return s == StageCompleted || s == StageFailed }

// Status maps a stage to the persisted job status.
func (s Stage) Status() models.JobStatus {
	switch s {
	case StageVerifying:
		return models.JobVerifying
	case StageBundling:
		return models.JobBundling
	case StageRendering:
		return models.JobRendering
	case StagePersisting:
		return models.JobPersisting
	case StageCompleted:
		return models.JobCompleted
	case StageFailed:
		return models.JobFailed
	default:
		return models.JobCreated
	}
}

// Job is one orchestration run. It owns staged asset IDs by reference; the
// temp store owns the files.
type Job struct {
	ID         string
	OutputName string

	mu        sync.Mutex
	clips     []models.ClipRecord
	layout    timeline.Layout
	stage     Stage
	rendered  int
	encoded   int
	assets    []string
	output    Output
	failure   *errors.Error
	createdAt time.Time
	started   time.Time
	finished  time.Time
}

// Output is the persisted result of a completed job.
type Output struct {
	Key         string `json:"key"`
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
}

func NewJob(id string, req models.RenderRequest) *Job {
	return &Job{
		ID:         id,
		OutputName: req.Filename(id),
		clips:      append([]models.ClipRecord(nil), req.Clips...),
		stage:      StageCreated,
		createdAt:  time.Now().UTC(),
	}
}

// JobFromRecord rebuilds a queued job from its persisted record.
func JobFromRecord(r models.JobRecord) *Job {
	name := r.OutputName
	if name == "" {
		name = (&models.RenderRequest{}).Filename(r.ID)
	}
	return &Job{
		ID:         r.ID,
		OutputName: name,
		clips:      append([]models.ClipRecord(nil), r.Clips...),
		stage:      StageCreated,
		createdAt:  r.CreatedAt,
	}
}

// Own registers a staged asset for release when the job ends.
func (j *Job) Own(assetID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range j.assets {
		if id == assetID {
			return
		}
	}
	j.assets = append(j.assets, assetID)
}

// Assets returns the owned asset IDs.
func (j *Job) Assets() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.assets...)
}

func (j *Job) Stage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

func (j *Job) Clips() []models.ClipRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.ClipRecord(nil), j.clips...)
}

func (j *Job) setClips(c []models.ClipRecord) {
	j.mu.Lock()
	j.clips = c
	j.mu.Unlock()
}

func (j *Job) Layout() timeline.Layout {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.layout
}

func (j *Job) setLayout(l timeline.Layout) {
	j.mu.Lock()
	j.layout = l
	j.mu.Unlock()
}

// advance moves the job to stage to. Backward moves, repeats and any move
// out of a terminal stage are rejected.
func (j *Job) advance(to Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stage.Terminal() {
		return fmt.Errorf("job %s is %s, cannot move to %s", j.ID, j.stage, to)
	}
	if to != StageFailed && stageOrder[to] <= stageOrder[j.stage] {
		return fmt.Errorf("job %s cannot move from %s back to %s", j.ID, j.stage, to)
	}
	if j.stage == StageCreated && j.started.IsZero() {
		j.started = time.Now().UTC()
	}
	j.stage = to
	if to.Terminal() {
		j.finished = time.Now().UTC()
	}
	return nil
}

// setProgress keeps the counters non-decreasing.
func (j *Job) setProgress(rendered, encoded int) {
	j.mu.Lock()
	j.rendered = max(j.rendered, rendered)
	j.encoded = max(j.encoded, encoded)
	j.mu.Unlock()
}

func (j *Job) setOutput(o Output) {
	j.mu.Lock()
	j.output = o
	j.mu.Unlock()
}

func (j *Job) setFailure(e *errors.Error) {
	j.mu.Lock()
	j.failure = e
	j.mu.Unlock()
}

// Snapshot is a copy of the job state safe to hand out.
type Snapshot struct {
	ID             string    `json:"id"`
	Stage          Stage     `json:"stage"`
	TotalFrames    int       `json:"totalFrames"`
	RenderedFrames int       `json:"renderedFrames"`
	EncodedFrames  int       `json:"encodedFrames"`
	Assets         []string  `json:"assets,omitempty"`
	Output         *Output   `json:"output,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{
		ID:             j.ID,
		Stage:          j.stage,
		TotalFrames:    j.layout.TotalFrames,
		RenderedFrames: j.rendered,
		EncodedFrames:  j.encoded,
		Assets:         append([]string(nil), j.assets...),
		CreatedAt:      j.createdAt,
	}
	if j.output.Key != "" {
		o := j.output
		s.Output = &o
	}
	if j.failure != nil {
		s.ErrorCode = string(j.failure.Code)
		s.Error = errors.Public(j.failure)
	}
	return s
}

// Record converts the job to its persisted form.
func (j *Job) Record() models.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := models.JobRecord{
		ID:          j.ID,
		Status:      j.stage.Status(),
		Clips:       append([]models.ClipRecord(nil), j.clips...),
		OutputName:  j.OutputName,
		TotalFrames: j.layout.TotalFrames,
		Rendered:    j.rendered,
		Encoded:     j.encoded,
		OutputKey:   j.output.Key,
		DownloadURL: j.output.DownloadURL,
		CreatedAt:   j.createdAt,
	}
	if !j.started.IsZero() {
		t := j.started
		r.StartedAt = &t
	}
	if !j.finished.IsZero() {
		t := j.finished
		r.FinishedAt = &t
	}
	if j.failure != nil {
		r.ErrorCode = string(j.failure.Code)
		r.Error = errors.Public(j.failure)
	}
	return r
}

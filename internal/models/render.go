package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"montage/internal/pkg/errors"
)

// RenderRequest is the body of POST /renders.
type RenderRequest struct {
	Clips []ClipRecord `json:"clips" validate:"required,min=1,dive"`
	// OutputName is an optional download filename; ".mp4" is appended when missing.
	OutputName string `json:"outputName,omitempty" validate:"omitempty,max=200"`
	// Queue hands the job to the worker instead of rendering on this connection.
	Queue bool `json:"queue,omitempty"`
}

// JobStatus mirrors the render stages for persisted records.
type JobStatus string

const (
	JobCreated    JobStatus = "created"
	JobQueued     JobStatus = "queued"
	JobVerifying  JobStatus = "verifying"
	JobBundling   JobStatus = "bundling"
	JobRendering  JobStatus = "rendering"
	JobPersisting JobStatus = "persisting"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobRecord is the persisted view of a render job.
type JobRecord struct {
	ID          string       `json:"id"`
	Status      JobStatus    `json:"status"`
	Clips       []ClipRecord `json:"clips,omitempty"`
	OutputName  string       `json:"outputName,omitempty"`
	TotalFrames int          `json:"totalFrames"`
	Rendered    int          `json:"renderedFrames"`
	Encoded     int          `json:"encodedFrames"`
	OutputKey   string       `json:"outputKey,omitempty"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
}

var (
	validate      = newValidator()
	timecodeRegex = regexp.MustCompile(`^\d{1,2}:[0-5]\d:[0-5]\d$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("timecode", func(fl validator.FieldLevel) bool {
		return timecodeRegex.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the request shape and clip name uniqueness. Durations are
// checked by the timeline so negative lengths keep their own error code.
func (r *RenderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	seen := make(map[string]struct{}, len(r.Clips))
	for i, c := range r.Clips {
		key := ClipKey(c.ClipName)
		if _, dup := seen[key]; dup {
			return errors.ValidationField(fmt.Sprintf("clips[%d].ClipName", i),
				fmt.Sprintf("duplicate clip name %q", c.ClipName))
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Filename returns the download name for the rendered output.
func (r *RenderRequest) Filename(jobID string) string {
	name := strings.TrimSpace(r.OutputName)
	if name == "" {
		return fmt.Sprintf("render-%s.mp4", jobID)
	}
	name = strings.NewReplacer("/", "_", `\`, "_", "..", "").Replace(name)
	if !strings.HasSuffix(strings.ToLower(name), ".mp4") {
		name += ".mp4"
	}
	return name
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.Validation(err.Error())
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "RenderRequest.")
	msg := fmt.Sprintf("%s failed %q", field, fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("%s failed %q (%s)", field, fe.Tag(), fe.Param())
	}
	return errors.ValidationField(field, msg)
}

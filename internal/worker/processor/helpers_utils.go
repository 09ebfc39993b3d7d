package processor

import (
	"fmt"

	"github.com/google/uuid"

	"montage/internal/pkg/errors"
)

// OutputKey is the object key of a job's rendered video.
func OutputKey(jobID string) string {
	return fmt.Sprintf("renders/%s/%s.mp4", jobID, uuid.NewString())
}

// asError returns err as a coded error, wrapping uncoded ones as internal.
func asError(err error) *errors.Error {
	var e *errors.Error
	if errors.As(err, &e) {
		return e
	}
	return errors.Wrap(err, "processor.run", "render job failed")
}

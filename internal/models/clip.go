package models

import (
	"math"
	"path/filepath"
	"regexp"
	"strings"
)

// Platform is the social network a clip was taken from.
type Platform string

const (
	PlatformYouTube   Platform = "YOUTUBE"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformFacebook  Platform = "FACEBOOK"
	PlatformLinkedIn  Platform = "LINKEDIN"
	PlatformOther     Platform = "OTHER"
)

// ClipRecord is one clip of a render request plus its overlay metadata.
// DurationInFrames is in composition frames; BeginTime/EndTime trim the
// source and use HH:MM:SS.
type ClipRecord struct {
	ClipName           string   `json:"ClipName" validate:"required"`
	Title              string   `json:"Title"`
	Date               string   `json:"Date"`
	Location           string   `json:"Location"`
	PostAuthor         string   `json:"Post_author"`
	Platform           Platform `json:"Platform,omitempty" validate:"omitempty,oneof=YOUTUBE TIKTOK INSTAGRAM FACEBOOK LINKEDIN OTHER"`
	Comments           string   `json:"Comments,omitempty"`
	CommentAuthors     string   `json:"Comment_authors,omitempty"`
	OriginalVideoTitle string   `json:"originalVideoTitle,omitempty"`
	BeginTime          string   `json:"BeginTime,omitempty" validate:"omitempty,timecode"`
	EndTime            string   `json:"EndTime,omitempty" validate:"omitempty,timecode"`
	DurationInFrames   int      `json:"durationInFrames"`
	// DurationSeconds is accepted from older clients and converted with the composition fps.
	DurationSeconds float64  `json:"duration,omitempty"`
	HasAudio        *bool    `json:"hasAudio,omitempty"`
	Loudness        *float64 `json:"loudness,omitempty"`
	VideoSrc        string   `json:"videoSrc,omitempty"`
	RenderSrc       string   `json:"renderSrc,omitempty"`
	StagedID        string   `json:"stagedId,omitempty"`
}

// Audible reports whether the clip's audio track should be mixed in.
// Clips without the flag are assumed to carry audio.
func (c ClipRecord) Audible() bool {
	return c.HasAudio == nil || *c.HasAudio
}

// FramesFromSeconds converts a seconds duration the way the composition does, rounding up.
func FramesFromSeconds(seconds float64, fps int) int {
	if seconds <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(seconds * float64(fps)))
}

var clipExt = regexp.MustCompile(`(?i)\.(mp4|mov|avi|mkv|webm)$`)

// ClipKey strips directories and a video extension so uploaded file names
// can be compared with ClipName.
func ClipKey(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	return clipExt.ReplaceAllString(name, "")
}

// IsVideoFile reports whether name carries a supported video extension.
func IsVideoFile(name string) bool {
	return clipExt.MatchString(strings.TrimSpace(name))
}

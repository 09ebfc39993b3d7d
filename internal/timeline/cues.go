package timeline

import "strings"

// CueSeparator splits the Comments and Comment_authors fields.
const CueSeparator = "§"

const (
	missingComment = "Comment missing"
	missingAuthor  = "Author missing"
)

// Cue is one comment overlay, relative to the start of its clip.
type Cue struct {
	Author     string `json:"author"`
	Text       string `json:"text"`
	StartFrame int    `json:"startFrame"`
	Frames     int    `json:"durationInFrames"`
}

// CommentCues schedules a clip's comments back to back. Each cue lasts
// floor(clipFrames / max(#comments, #authors)); the shorter list is padded
// with placeholders.
func CommentCues(comments, authors string, clipFrames int) []Cue {
	texts := splitCues(comments, missingComment)
	names := splitCues(authors, missingAuthor)

	n := max(len(texts), len(names))
	each := clipFrames / n
	if each <= 0 {
		return nil
	}

	cues := make([]Cue, n)
	for i := range cues {
		c := Cue{StartFrame: i * each, Frames: each, Text: missingComment, Author: missingAuthor}
		if i < len(texts) {
			c.Text = texts[i]
		}
		if i < len(names) {
			c.Author = names[i]
		}
		cues[i] = c
	}
	return cues
}

func splitCues(raw, placeholder string) []string {
	var out []string
	for _, s := range strings.Split(raw, CueSeparator) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{placeholder}
	}
	return out
}

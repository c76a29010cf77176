// Package chunkuploader uploads a media file as fixed-size parts against a session based remote API.
// Parts are checksummed, uploaded with bounded parallelism and retries, and every confirmed part is
// recorded in a state.Store before it counts as done, so an interrupted upload resumes where it stopped.
package chunkuploader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trendcast/go-mediautils/uploaderr"
)

const (
	uploadIDPlaceholder   = "{upload_id}"
	partNumberPlaceholder = "{part_number}"
)

// Session is one logical transfer opened against the remote service. It is read-only once negotiated.
type Session struct {
	UploadID string
	FileSize int64
	PartSize int64

	// PartURLTemplate is either a fixed endpoint or a URL containing {upload_id} and {part_number}.
	PartURLTemplate string

	// FallbackPartURL is used when the service did not return a template.
	FallbackPartURL string
}

// PartURL resolves the upload target of a part.
func (s Session) PartURL(partNumber int) (string, error) {
	tmpl := s.PartURLTemplate
	if tmpl == "" {
		tmpl = s.FallbackPartURL
	}
	if tmpl == "" {
		return "", &uploaderr.ConfigurationError{
			Field:  "part upload url",
			Reason: "session has no upload url template and no part upload url is configured",
		}
	}

	r := strings.NewReplacer(
		partNumberPlaceholder, strconv.Itoa(partNumber),
		uploadIDPlaceholder, s.UploadID,
	)
	return r.Replace(tmpl), nil
}

// Part is one planned byte range of the source file. Numbers start at 1.
type Part struct {
	Number int
	Offset int64
	Length int64
}

func (p Part) String() string {
	return fmt.Sprintf("part %d [%d, %d)", p.Number, p.Offset, p.Offset+p.Length)
}

// Metrics receives upload events. A nil Metrics is valid and records nothing.
type Metrics interface {
	PartUploaded(bytes int64, took time.Duration)
	PartSkipped()
	PartRetried(rateLimited bool)
	PartFailed()
}

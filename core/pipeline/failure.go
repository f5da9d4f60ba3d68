package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"soniqfm/core/transcode"
)

// FailureKind tags a pipeline failure for diagnostics. All kinds are retried
// identically up to the configured maximum; the tag exists so operators can
// tell a dead transcoder from a dead database at a glance.
type FailureKind string

const (
	KindConfig      FailureKind = "config"      // processing/transcoding disabled or bad format
	KindTranscode   FailureKind = "transcode"   // external tool non-zero exit
	KindPublish     FailureKind = "publish"     // storage placement failed, incl. missing manifest
	KindPersistence FailureKind = "persistence" // commit errors around state transitions
	KindInternal    FailureKind = "internal"    // catch-all for unexpected errors
)

const (
	// maxMessageLen bounds the error_message column value.
	maxMessageLen = 950
	// maxStderrLen bounds the captured tool stderr folded into the message.
	maxStderrLen = 500
)

// Failure is the tagged result of a failed pipeline stage.
type Failure struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message renders the bounded, human-readable diagnostic stored on the track.
// Captured transcoder stderr is folded in when available.
func (f *Failure) Message() string {
	detail := f.Detail
	if f.Err != nil {
		detail = fmt.Sprintf("%s: %v", detail, f.Err)
	}

	var execErr *transcode.ExecError
	if errors.As(f.Err, &execErr) && strings.TrimSpace(execErr.Stderr) != "" {
		detail = fmt.Sprintf("%s | stderr: %s", detail, truncate(strings.TrimSpace(execErr.Stderr), maxStderrLen))
	}

	return truncate(fmt.Sprintf("%s: %s", f.Kind, detail), maxMessageLen)
}

func failf(kind FailureKind, err error, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so the
// stored message stays valid UTF-8 even when ffmpeg stderr is multi-byte.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

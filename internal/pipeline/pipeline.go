// Package pipeline defines the external transcription and summarization
// services consumed by the worker pool, and their concrete implementations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Transcription is the output of the transcription service.
type Transcription struct {
	Text            string
	Language        string
	DurationSeconds float64
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (*Transcription, error)
}

// Summary is the output of the summarization service.
type Summary struct {
	Summary  string
	Keywords []string
}

// Summarizer condenses a transcript into a summary plus keywords.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*Summary, error)
}

// Error classifies a pipeline failure. Transient errors are retried by the
// worker pool up to its retry budget; permanent errors fail the meeting
// immediately.
type Error struct {
	Op        string // "transcribe" or "summarize"
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// transientErr wraps err as a retryable failure.
func transientErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// permanentErr wraps err as a failure retrying cannot fix.
func permanentErr(op string, err error) error {
	return &Error{Op: op, Permanent: true, Err: err}
}

// IsPermanent reports whether err is classified as permanent. Unclassified
// errors default to transient so unknown failures get the retry budget.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Permanent
}

// supportedFormats are the audio container extensions accepted for upload.
var supportedFormats = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true,
	".flac": true, ".webm": true, ".aac": true, ".wma": true,
}

// ValidateAudioFormat checks if the file format is supported.
func ValidateAudioFormat(filename string) bool {
	return supportedFormats[strings.ToLower(filepath.Ext(filename))]
}

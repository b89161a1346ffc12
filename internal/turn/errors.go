package turn

import (
	"errors"
	"fmt"
)

// Turn-scoped fault classes. Every stage failure surfaced to the session
// loop wraps exactly one of these sentinels so the recovery policy can
// match on kind instead of string contents.
var (
	ErrMalformedInput      = errors.New("malformed input")
	ErrEmptyUtterance      = errors.New("empty utterance")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrInferenceFailed     = errors.New("inference failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
)

// Stage names the pipeline stage a fault originated from.
type Stage string

const (
	StageReceive    Stage = "receive"
	StageTranscribe Stage = "transcribe"
	StageInfer      Stage = "infer"
	StageSynthesize Stage = "synthesize"
	StageStream     Stage = "stream"
)

// Error is a recoverable, turn-scoped fault. The session loop logs it and
// resumes listening; it never terminates the connection. Transport-level
// failures are reported as plain errors and do terminate the session.
type Error struct {
	Stage Stage
	Turn  uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn %d failed at %s: %v", e.Turn, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps a stage failure into a turn-scoped Error.
func Fail(stage Stage, n uint64, err error) *Error {
	return &Error{Stage: stage, Turn: n, Err: err}
}

package model

import (
	"errors"
	"fmt"
)

var (
	ErrAcquisition   = errors.New("acquisition error")
	ErrProbe         = errors.New("probe error")
	ErrExtraction    = errors.New("extraction error")
	ErrTranscription = errors.New("transcription error")
	ErrRewrite       = errors.New("rewrite error")
	ErrSynthesis     = errors.New("synthesis error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransform     = errors.New("transform error")
	ErrRender        = errors.New("render error")
	ErrStorage       = errors.New("storage error")

	// ErrStaleVoice is the cause of a voiced render attempted after the
	// script changed and before a new voice track was synthesized.
	ErrStaleVoice = errors.New("voice track missing or stale, synthesize again before rendering")
	ErrNoSpeech   = errors.New("no speech detected")
	ErrNoAudio    = errors.New("source has no audio track")
)

type Stage string

const (
	StageAcquire    Stage = "acquire"
	StageProbe      Stage = "probe"
	StageExtract    Stage = "extract"
	StageTranscribe Stage = "transcribe"
	StageRewrite    Stage = "rewrite"
	StageSynthesize Stage = "synthesize"
	StageTransform  Stage = "transform"
	StageRender     Stage = "render"
	StageStore      Stage = "store"
)

// StageError records which stage failed, the error kind (one of the Err*
// sentinels) and the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes the kind and the cause. A configuration error raised by
// synthesis also matches ErrSynthesis.
func (e *StageError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Kind == ErrConfiguration && e.Stage == StageSynthesize {
		errs = append(errs, ErrSynthesis)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NewStageError(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Wrap returns err as a StageError of the given kind unless it already is one.
func Wrap(stage Stage, kind, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return NewStageError(stage, kind, err)
}

// ConfigError is a missing credential or binary, raised before any network call.
func ConfigError(stage Stage, format string, args ...any) error {
	return NewStageError(stage, ErrConfiguration, fmt.Errorf(format, args...))
}

// StageOf returns the failing stage, or "" for untyped errors.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

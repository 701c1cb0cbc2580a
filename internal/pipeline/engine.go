package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/progress"
	"remix-studio/internal/video"
)

// ErrInvalidState is returned when an operation is called from a state
// that does not allow it. The run is left untouched.
var ErrInvalidState = errors.New("operation not allowed in current state")

type Resolver interface {
	FromURL(ctx context.Context, rawURL string) (*model.VideoAsset, error)
	FromUpload(ctx context.Context, filename string, body io.Reader) (*model.VideoAsset, error)
}

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, out string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Rewriter interface {
	Rewrite(ctx context.Context, original string, style model.Style, targetSeconds float64) (*model.Script, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p model.Provider, voice string) (*model.VoiceTrack, error)
}

type Renderer interface {
	Render(ctx context.Context, req video.RenderRequest) (*model.ProcessedVideo, error)
}

// Ports are the external collaborators of the engine.
type Ports struct {
	Resolver    Resolver
	Extractor   AudioExtractor
	Transcriber Transcriber
	Rewriter    Rewriter
	Synthesizer Synthesizer
	Renderer    Renderer
	Events      progress.Sink // optional
}

// Engine drives runs through the remix state machine. Apart from the set
// of work files held by open runs it keeps no per-run state and may be
// shared by concurrent runs.
type Engine struct {
	ports   Ports
	tempDir string
	log     *logging.Logger
	files   workFiles
}

func NewEngine(ports Ports, tempDir string, log *logging.Logger) *Engine {
	return &Engine{ports: ports, tempDir: tempDir, log: log}
}

// Input is either a URL or an upload.
type Input struct {
	URL        string
	UploadName string
	Upload     io.Reader
}

func (in Input) empty() bool {
	return in.URL == "" && in.Upload == nil && in.UploadName == ""
}

func (in Input) String() string {
	if in.URL != "" {
		return in.URL
	}
	return in.UploadName
}

func (e *Engine) emit(run *Run, stage model.Stage, pct float64, format string, args ...any) {
	if e.ports.Events == nil {
		return
	}
	e.ports.Events.Publish(progress.Event{
		RunID:   run.ID,
		Stage:   string(stage),
		State:   run.State.String(),
		Percent: pct,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	})
}

func (e *Engine) failed(run *Run, stage model.Stage, err error) error {
	run.fail(stage, err)
	e.log.Errorf("[RUN %s] %s failed in state %s: %v", run.ID, stage, run.State, err)
	e.emit(run, stage, 0, "failed: %v", err)
	return err
}

func invalid(run *Run, op string) error {
	return fmt.Errorf("%s from %s: %w", op, run.State, ErrInvalidState)
}

// Acquire resolves the input into the run's source. Failure leaves the run
// Empty.
func (e *Engine) Acquire(ctx context.Context, run *Run, in Input) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.State != StateEmpty {
		return invalid(run, "acquire")
	}
	e.emit(run, model.StageAcquire, 0, "acquiring %s", in)

	var (
		asset *model.VideoAsset
		err   error
	)
	switch {
	case in.Upload != nil:
		asset, err = e.ports.Resolver.FromUpload(ctx, in.UploadName, in.Upload)
	case in.URL != "":
		asset, err = e.ports.Resolver.FromURL(ctx, in.URL)
	default:
		err = errors.New("no url or upload given")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failed(run, model.StageAcquire, model.Wrap(model.StageAcquire, model.ErrAcquisition, err))
	}
	e.UseAsset(run, asset)
	return nil
}

// UseAsset attaches an already resolved asset. The asset is treated as
// read-only and may be shared with other runs.
func (e *Engine) UseAsset(run *Run, asset *model.VideoAsset) {
	run.Asset = asset
	e.files.hold(run.ID, asset.Path)
	run.clearErr()
	run.set(StateSourceReady)
	e.log.Infof("[RUN %s] source ready: %s", run.ID, asset.Path)
	e.emit(run, model.StageAcquire, 100, "source ready: %s", asset.Filename)
}

// ExtractAudio pulls the source audio for transcription. Any extraction
// failure moves the run to SilentFallback instead of failing it.
func (e *Engine) ExtractAudio(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.State != StateSourceReady {
		return invalid(run, "extract audio")
	}
	if run.Options.Strategy != model.AudioVoiced {
		return fmt.Errorf("extract audio with %s audio: %w", run.Options.Strategy, ErrInvalidState)
	}
	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return e.failed(run, model.StageStore, model.Wrap(model.StageStore, model.ErrStorage, err))
	}
	out := filepath.Join(e.tempDir, fmt.Sprintf("audio_%s.mp3", run.ID))
	e.emit(run, model.StageExtract, 0, "extracting audio")
	if err := e.ports.Extractor.ExtractAudio(ctx, run.Asset.Path, out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.FallbackReason = model.Wrap(model.StageExtract, model.ErrExtraction, err)
		run.clearErr()
		run.set(StateSilentFallback)
		e.log.Warnf("[RUN %s] audio extraction failed, continuing silent: %v", run.ID, err)
		e.emit(run, model.StageExtract, 100, "no usable audio, continuing silent")
		return nil
	}
	run.AudioPath = out
	e.files.hold(run.ID, out)
	run.clearErr()
	run.set(StateAudioExtracted)
	e.emit(run, model.StageExtract, 100, "audio extracted")
	return nil
}

// Transcribe turns the extracted audio into the source text.
func (e *Engine) Transcribe(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.State != StateAudioExtracted {
		return invalid(run, "transcribe")
	}
	e.emit(run, model.StageTranscribe, 0, "transcribing")
	text, err := e.ports.Transcriber.Transcribe(ctx, run.AudioPath)
	if err == nil && strings.TrimSpace(text) == "" {
		err = model.ErrNoSpeech
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failed(run, model.StageTranscribe, model.Wrap(model.StageTranscribe, model.ErrTranscription, err))
	}
	run.Transcript = strings.TrimSpace(text)
	run.clearErr()
	run.set(StateTranscribed)
	e.emit(run, model.StageTranscribe, 100, "transcribed %d words", len(strings.Fields(run.Transcript)))
	return nil
}

// Rewrite produces a new Script from the transcript. Rewriting again from
// Scripted or Voiced replaces the script and drops the voice.
func (e *Engine) Rewrite(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch run.State {
	case StateTranscribed, StateScripted, StateVoiced, StateDone, StateFailed:
		if run.Transcript == "" {
			return invalid(run, "rewrite")
		}
	default:
		return invalid(run, "rewrite")
	}
	e.emit(run, model.StageRewrite, 0, "rewriting as %s", run.Options.Style)
	script, err := e.ports.Rewriter.Rewrite(ctx, run.Transcript, run.Options.Style, run.TargetSeconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failed(run, model.StageRewrite, model.Wrap(model.StageRewrite, model.ErrRewrite, err))
	}
	// derived fields always come from the returned text
	script.SetText(script.Text)
	script.Style = run.Options.Style
	if script.Original == "" {
		script.Original = run.Transcript
	}
	run.Script = script
	e.dropVoice(run)
	run.clearErr()
	run.set(StateScripted)
	e.emit(run, model.StageRewrite, 100, "script ready: %d words, ~%.0fs", script.WordCount, script.EstimatedDuration)
	return nil
}

// EditScript replaces the script text. Any existing voice is discarded and
// the run returns to Scripted.
func (e *Engine) EditScript(run *Run, text string) error {
	switch run.State {
	case StateScripted, StateVoiced, StateDone, StateFailed:
		if run.Script == nil {
			return invalid(run, "edit script")
		}
	default:
		return invalid(run, "edit script")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("script text is empty")
	}
	run.Script.SetText(text)
	run.Script.Edited = true
	e.dropVoice(run)
	run.clearErr()
	run.set(StateScripted)
	e.log.Infof("[RUN %s] script edited: %d words", run.ID, run.Script.WordCount)
	e.emit(run, model.StageRewrite, 100, "script edited: %d words", run.Script.WordCount)
	return nil
}

func (e *Engine) dropVoice(run *Run) {
	if run.Voice == nil {
		return
	}
	if err := os.Remove(run.Voice.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warnf("[RUN %s] remove stale voice: %v", run.ID, err)
	}
	e.files.drop(run.ID, run.Voice.Path)
	run.Voice = nil
}

// Synthesize voices the current script. Failure keeps the run where it was
// so it can be retried with other credentials or another provider.
func (e *Engine) Synthesize(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch run.State {
	case StateScripted, StateVoiced:
	default:
		return invalid(run, "synthesize")
	}
	e.emit(run, model.StageSynthesize, 0, "synthesizing with %s", run.Options.Provider)
	track, err := e.ports.Synthesizer.Synthesize(ctx, run.Script.Text, run.Options.Provider, run.Options.Voice)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failed(run, model.StageSynthesize, model.Wrap(model.StageSynthesize, model.ErrSynthesis, err))
	}
	e.dropVoice(run)
	run.Voice = track
	e.files.hold(run.ID, track.Path)
	run.clearErr()
	run.set(StateVoiced)
	e.emit(run, model.StageSynthesize, 100, "voice ready (%s/%s)", track.Provider, track.VoiceID)
	return nil
}

// Render applies the transforms and muxes the output. A render failure
// moves the run to Failed; calling Render again retries from the state the
// failed render started in.
func (e *Engine) Render(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := run.State
	if from == StateFailed {
		from = run.resume
	}
	if run.Asset == nil {
		return invalid(run, "render")
	}
	strategy := run.Options.Strategy
	if from == StateSilentFallback {
		strategy = model.AudioSilent
	}
	if strategy == model.AudioVoiced && run.Voice == nil {
		err := model.NewStageError(model.StageRender, model.ErrRender, model.ErrStaleVoice)
		run.fail(model.StageRender, err)
		return err
	}
	if !from.renderable() {
		return invalid(run, "render")
	}

	run.resume = from
	run.set(StateRendering)
	e.emit(run, model.StageRender, 0, "rendering")

	req := video.RenderRequest{
		Asset:         run.Asset,
		Strategy:      strategy,
		AntiDetection: run.Options.AntiDetection,
		OutputName:    run.Options.OutputName,
		Overwrite:     run.Options.Overwrite,
		RunID:         run.ID,
		RemixID:       uuid.NewString(),
		OnProgress: func(p video.Progress) {
			e.emit(run, model.StageRender, p.Percent, "%s at %s", p.OutTime.Round(time.Second), p.Speed)
		},
	}
	if strategy == model.AudioVoiced {
		req.Voice = run.Voice
	}
	pv, err := e.ports.Renderer.Render(ctx, req)
	if err != nil {
		run.set(StateFailed)
		if ctx.Err() != nil {
			run.fail(model.StageRender, ctx.Err())
			return ctx.Err()
		}
		stage := model.StageOf(err)
		if stage == "" {
			stage = model.StageRender
		}
		return e.failed(run, stage, model.Wrap(model.StageRender, model.ErrRender, err))
	}
	if strategy == model.AudioVoiced {
		pv.Script = run.Script
	}
	pv.RunID = run.ID
	run.Result = pv
	run.clearErr()
	run.set(StateDone)
	if path, err := WriteSidecar(pv); err != nil {
		e.log.Warnf("[RUN %s] sidecar: %v", run.ID, err)
	} else {
		e.log.Infof("[RUN %s] sidecar written: %s", run.ID, path)
	}
	e.emit(run, model.StageRender, 100, "done: %s", pv.Path)
	return nil
}

// PrepareScript runs the voiced branch up to Scripted: extract, transcribe
// and rewrite. It does nothing for silent or original audio.
func (e *Engine) PrepareScript(ctx context.Context, run *Run) error {
	if run.Options.Strategy != model.AudioVoiced {
		return nil
	}
	if run.State == StateSourceReady {
		if err := e.ExtractAudio(ctx, run); err != nil {
			return err
		}
	}
	if run.State == StateSilentFallback {
		return nil
	}
	if run.State == StateAudioExtracted {
		if err := e.Transcribe(ctx, run); err != nil {
			return err
		}
	}
	if run.State == StateTranscribed {
		return e.Rewrite(ctx, run)
	}
	return nil
}

// Finish synthesizes when a voice is still needed, then renders.
func (e *Engine) Finish(ctx context.Context, run *Run) error {
	if run.Options.Strategy == model.AudioVoiced && run.State == StateScripted {
		if err := e.Synthesize(ctx, run); err != nil {
			return err
		}
	}
	return e.Render(ctx, run)
}

// Execute drives a run to Done with no human step. An Empty run is first
// acquired from in. A run that already has a source resumes from its
// current state and must be given an empty Input; passing a URL or upload
// then fails with ErrInvalidState instead of being ignored.
func (e *Engine) Execute(ctx context.Context, run *Run, in Input) (*model.ProcessedVideo, error) {
	if run.State == StateEmpty {
		if err := e.Acquire(ctx, run, in); err != nil {
			return nil, err
		}
	} else if !in.empty() {
		return nil, invalid(run, "execute with new input")
	}
	if err := e.PrepareScript(ctx, run); err != nil {
		return nil, err
	}
	if err := e.Finish(ctx, run); err != nil {
		return nil, err
	}
	return run.Result, nil
}

// Cleanup removes the run's intermediate audio, releases its work files to
// the janitor and reports the run as closed to the event sink. The run must
// not be driven afterwards.
func (e *Engine) Cleanup(run *Run) {
	if run.AudioPath != "" {
		_ = os.Remove(run.AudioPath)
		run.AudioPath = ""
	}
	e.files.release(run.ID)
	if e.ports.Events != nil {
		e.ports.Events.Publish(progress.Event{RunID: run.ID, State: progress.StateClosed, At: time.Now()})
	}
}

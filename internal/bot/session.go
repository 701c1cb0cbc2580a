package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
)

// session is one chat's current run. mu is held for the whole of a stage,
// so the stages of one run never overlap.
type session struct {
	mu    sync.Mutex
	run   *pipeline.Run
	found *model.Discovered
}

// sessions maps chats to their session and runs back to their chat.
type sessions struct {
	mu       sync.Mutex
	byChat   map[int64]*session
	byRun    map[string]int64
	defaults func() pipeline.Options
}

func newSessions(defaults func() pipeline.Options) *sessions {
	return &sessions{
		byChat:   make(map[int64]*session),
		byRun:    make(map[string]int64),
		defaults: defaults,
	}
}

// get returns the chat's session, creating one with a fresh run.
func (s *sessions) get(chatID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byChat[chatID]; ok {
		return sess
	}
	sess := &session{run: pipeline.NewRun(s.defaults())}
	s.byChat[chatID] = sess
	s.byRun[sess.run.ID] = chatID
	return sess
}

// renew replaces the session's run with an Empty one using opts. The caller
// holds sess.mu.
func (s *sessions) renew(chatID int64, sess *session, opts pipeline.Options) *pipeline.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRun, sess.run.ID)
	sess.run = pipeline.NewRun(opts)
	s.byRun[sess.run.ID] = chatID
	return sess.run
}

func (s *sessions) runID(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byChat[chatID]; ok {
		return sess.run.ID
	}
	return ""
}

func (s *sessions) chatOf(runID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRun[runID]
	return id, ok
}

var errModeLocked = errors.New("la modalità audio si sceglie prima dello script, usa /reset")

// modeChangeable reports whether the audio strategy may still change.
// Once audio was extracted the run is committed to its branch.
func modeChangeable(st pipeline.State) bool {
	return st == pipeline.StateEmpty || st == pipeline.StateSourceReady
}

func applyMode(run *pipeline.Run, arg string) error {
	a, err := model.ParseAudioStrategy(arg)
	if err != nil {
		return err
	}
	if a != run.Options.Strategy && !modeChangeable(run.State) {
		return errModeLocked
	}
	run.Options.Strategy = a
	return nil
}

func applyStyle(opts *pipeline.Options, arg string) error {
	st, err := model.ParseStyle(arg)
	if err != nil {
		return err
	}
	opts.Style = st
	return nil
}

// applyVoice parses "<provider> [voice]". An empty voice selects the
// provider default; a named voice must be one the provider offers.
func applyVoice(opts *pipeline.Options, args string, voices VoiceCatalog) error {
	f := strings.Fields(args)
	if len(f) == 0 {
		return errors.New("uso: /voice <free|openai|elevenlabs> [voce]")
	}
	p, err := model.ParseProvider(f[0])
	if err != nil {
		return err
	}
	voice := ""
	if len(f) > 1 {
		voice = f[1]
		if list := voices.Voices(p); len(list) > 0 && !lo.Contains(list, voice) {
			return fmt.Errorf("voce %q non disponibile per %s (%s)", voice, p, strings.Join(list, ", "))
		}
	}
	opts.Provider = p
	opts.Voice = voice
	return nil
}

func parseSwitch(arg string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on", "si", "sì", "1", "true":
		return true, nil
	case "off", "no", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("valore %q non valido, usa on oppure off", arg)
}

func applyAnti(opts *pipeline.Options, arg string) error {
	on, err := parseSwitch(arg)
	if err != nil {
		return err
	}
	a := opts.AntiDetection
	a.Enabled = on
	if err := a.Validate(); err != nil {
		return err
	}
	opts.AntiDetection = a
	return nil
}

func applyFlip(opts *pipeline.Options, arg string) error {
	on, err := parseSwitch(arg)
	if err != nil {
		return err
	}
	opts.AntiDetection.FlipHorizontal = on
	return nil
}

func applySpeed(opts *pipeline.Options, arg string) error {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(arg), ",", ".", 1), 64)
	if err != nil {
		return fmt.Errorf("velocità %q non valida", arg)
	}
	a := opts.AntiDetection
	a.SpeedFactor = v
	if err := a.Validate(); err != nil {
		return err
	}
	opts.AntiDetection = a
	return nil
}

// renderArgs parses "/render [name] [force]".
func renderArgs(args string) (name string, overwrite bool) {
	for _, f := range strings.Fields(args) {
		if strings.EqualFold(f, "force") {
			overwrite = true
			continue
		}
		if name == "" {
			name = f
		}
	}
	return name, overwrite
}

// providerWarning is shown when p is selected but cannot synthesize yet.
func providerWarning(voices VoiceCatalog, p model.Provider) string {
	if err := voices.Check(p); err != nil {
		return fmt.Sprintf("⚠️ %s non è configurato: %v", p, err)
	}
	return ""
}

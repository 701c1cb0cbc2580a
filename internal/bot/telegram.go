package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remix-studio/internal"
	"remix-studio/internal/archive"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/preset"
	"remix-studio/internal/progress"
	"remix-studio/internal/scheduler"
	"remix-studio/internal/uploaders"
)

// VoiceCatalog lists the voices of each provider.
type VoiceCatalog interface {
	Voices(p model.Provider) []string
	DefaultVoice(p model.Provider) string
	Check(p model.Provider) error
}

type Deps struct {
	Engine    *pipeline.Engine
	Voices    VoiceCatalog
	Presets   *preset.File       // optional
	Publisher *uploaders.Manager // optional
	Archive   *archive.Store     // optional
	Sources   []scheduler.Source
	Scheduler *scheduler.Service // optional
}

type TelegramBot struct {
	tg         *tgbotapi.BotAPI
	cfg        internal.Config
	deps       Deps
	log        *logging.Logger
	errorsPath string
	cancelFunc context.CancelFunc

	sessions *sessions

	events  chan progress.Event
	trackMu sync.Mutex
	tracked map[string]*statusMessage

	// scheduled remixes waiting for a publish decision
	recentMu sync.Mutex
	recent   map[string]*model.ProcessedVideo
}

type statusMessage struct {
	chatID int64
	msgID  int
	last   time.Time
}

const (
	eventBuffer       = 64
	progressThrottle  = 3 * time.Second
	maxTelegramUpload = 20 << 20 // bot API download limit
	maxMessage        = 3900
)

func NewTelegramBot(cfg internal.Config, deps Deps, log *logging.Logger, errorsPath string, cancel context.CancelFunc) (*TelegramBot, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}
	if deps.Engine == nil {
		return nil, errors.New("bot: engine is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return &TelegramBot{
		tg:         api,
		cfg:        cfg,
		deps:       deps,
		log:        log,
		errorsPath: errorsPath,
		cancelFunc: cancel,
		sessions:   newSessions(func() pipeline.Options { return pipeline.DefaultOptions(cfg) }),
		events:     make(chan progress.Event, eventBuffer),
		tracked:    make(map[string]*statusMessage),
		recent:     make(map[string]*model.ProcessedVideo),
	}, nil
}

func (b *TelegramBot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.tg.GetUpdatesChan(u)
	b.log.Infof("telegram bot started as @%s", b.tg.Self.UserName)

	go b.runMemoryWatcher(ctx)
	go b.runProgress(ctx)

	for {
		select {
		case <-ctx.Done():
			b.tg.StopReceivingUpdates()
			return nil
		case upd := <-updates:
			switch {
			case upd.Message != nil && upd.Message.IsCommand():
				b.handleCommand(ctx, upd.Message)
			case upd.Message != nil && (upd.Message.Video != nil || upd.Message.Document != nil):
				b.handleUpload(ctx, upd.Message)
			case upd.CallbackQuery != nil:
				b.handleCallback(ctx, upd.CallbackQuery)
			}
		}
	}
}

func (b *TelegramBot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.replyText(chatID, "Ciao! Mandami un link o un video e lo trasformo in un remix. /help per i comandi.")
	case "help":
		b.cmdHelp(chatID)
	case "remix":
		b.cmdRemix(ctx, chatID, args)
	case "mode":
		b.cmdMode(chatID, args)
	case "style":
		b.cmdStyle(chatID, args)
	case "voice":
		b.cmdVoice(chatID, args)
	case "anti":
		b.cmdOption(chatID, args, applyAnti)
	case "flip":
		b.cmdOption(chatID, args, applyFlip)
	case "speed":
		b.cmdOption(chatID, args, applySpeed)
	case "preset":
		b.cmdPreset(chatID, args)
	case "script":
		b.cmdScript(ctx, chatID, args)
	case "edit":
		b.cmdEdit(chatID, args)
	case "synth":
		b.cmdSynth(ctx, chatID)
	case "render":
		b.cmdRender(ctx, chatID, args)
	case "publish":
		b.cmdPublish(ctx, chatID, args)
	case "status":
		b.cmdStatus(ctx, chatID)
	case "discover":
		b.cmdDiscover(ctx, chatID, args)
	case "errors":
		b.cmdErrors(chatID)
	case "reset":
		b.cmdReset(chatID)
	default:
		b.replyText(chatID, "Comando sconosciuto. /help per la lista.")
	}
}

func (b *TelegramBot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warnf("callback ack: %v", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	parts := splitCallback(cb.Data)
	if len(parts) < 2 {
		b.replyText(chatID, "❌ Dati del pulsante non validi")
		return
	}
	action, ref := parts[0], parts[len(parts)-1]

	if action == "pubremix" {
		b.publishRecent(ctx, chatID, ref)
		return
	}
	if ref != b.sessions.runID(chatID) {
		b.replyText(chatID, "⌛ Questo pulsante si riferisce a un remix precedente.")
		return
	}

	switch action {
	case "synth":
		b.cmdSynth(ctx, chatID)
	case "render":
		b.cmdRender(ctx, chatID, "")
	case "rewrite":
		b.cmdScript(ctx, chatID, "nuovo")
	case "publish":
		b.cmdPublish(ctx, chatID, "")
	case "pubto":
		if len(parts) == 3 {
			b.cmdPublish(ctx, chatID, parts[1])
		}
	case "remixfound":
		b.withRun(chatID, func(sess *session) {
			if sess.found == nil {
				b.replyText(chatID, "Nessun video trovato da remixare, usa /discover")
				return
			}
			b.startRun(ctx, chatID, sess, pipeline.Input{URL: sess.found.URL})
		})
	default:
		b.replyText(chatID, "❌ Azione sconosciuta")
	}
}

func splitCallback(data string) []string {
	if data == "" {
		return nil
	}
	return strings.Split(data, ":")
}

// handleUpload starts a run from a video sent to the chat.
func (b *TelegramBot) handleUpload(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	var fileID, name string
	var size int
	switch {
	case msg.Video != nil:
		fileID, name, size = msg.Video.FileID, msg.Video.FileName, msg.Video.FileSize
		if name == "" {
			name = "video.mp4"
		}
	case msg.Document != nil:
		if !isVideoName(msg.Document.FileName) {
			b.replyText(chatID, "❌ Invia un video (.mp4, .mov, .avi, .mkv) oppure un link con /remix")
			return
		}
		fileID, name, size = msg.Document.FileID, msg.Document.FileName, msg.Document.FileSize
	}
	if size > maxTelegramUpload {
		b.replyText(chatID, "❌ Il file supera i 20 MB che il bot può scaricare. Caricalo altrove e usa /remix <link>")
		return
	}

	b.withRun(chatID, func(sess *session) {
		file, err := b.tg.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			b.log.Errorf("get file %s: %v", fileID, err)
			b.replyText(chatID, fmt.Sprintf("❌ Errore nel recupero del file: %v", err))
			return
		}
		body, err := b.downloadFile(ctx, file.Link(b.cfg.TelegramToken))
		if err != nil {
			b.log.Errorf("download upload %s: %v", name, err)
			b.replyText(chatID, fmt.Sprintf("❌ Errore nel download: %v", err))
			return
		}
		defer body.Close()
		b.startRun(ctx, chatID, sess, pipeline.Input{UploadName: name, Upload: body})
	})
}

func isVideoName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".avi", ".mkv":
		return true
	}
	return false
}

func (b *TelegramBot) downloadFile(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// withRun runs fn on the chat's session in the background. A chat runs one
// stage at a time and a request made meanwhile is refused.
func (b *TelegramBot) withRun(chatID int64, fn func(sess *session)) {
	sess := b.sessions.get(chatID)
	if !sess.mu.TryLock() {
		b.replyText(chatID, "⏳ C'è già un'operazione in corso, attendi che finisca.")
		return
	}
	go func() {
		defer sess.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorf("chat %d: panic: %v", chatID, r)
				b.replyText(chatID, "❌ Errore interno, riprova")
			}
		}()
		fn(sess)
	}()
}

// lockRun is the synchronous form of withRun for quick option changes.
// The caller unlocks sess.mu.
func (b *TelegramBot) lockRun(chatID int64) (*session, bool) {
	sess := b.sessions.get(chatID)
	if !sess.mu.TryLock() {
		b.replyText(chatID, "⏳ C'è già un'operazione in corso, attendi che finisca.")
		return nil, false
	}
	return sess, true
}

// NotifyRemix posts a scheduled remix to the admin chat with a publish button.
func (b *TelegramBot) NotifyRemix(ctx context.Context, pv *model.ProcessedVideo, caption string) error {
	if b.cfg.AdminChatID == 0 {
		b.log.Warnf("NotifyRemix: ADMIN_CHAT_ID not set, remix %s not delivered", pv.ID)
		return nil
	}
	b.recentMu.Lock()
	b.recent[pv.ID] = pv
	b.recentMu.Unlock()

	var markup *tgbotapi.InlineKeyboardMarkup
	if b.deps.Publisher != nil && len(b.deps.Publisher.AvailablePlatforms()) > 0 {
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📤 Pubblica", "pubremix:"+pv.ID),
		))
		markup = &kb
	}
	return b.sendVideo(b.cfg.AdminChatID, pv.Path, "🗓 "+truncateRunes(caption, 1000), markup)
}

func (b *TelegramBot) NotifyText(text string) {
	if b.cfg.AdminChatID == 0 {
		b.log.Warnf("NotifyText: ADMIN_CHAT_ID not set: %s", text)
		return
	}
	b.replyText(b.cfg.AdminChatID, "⚠️ "+text)
}

func (b *TelegramBot) sendVideo(chatID int64, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	msg := tgbotapi.NewVideo(chatID, tgbotapi.FileReader{Name: filepath.Base(path), Reader: f})
	msg.Caption = caption
	msg.SupportsStreaming = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.tg.Send(msg)
	if err != nil {
		return err
	}
	if sent.Video == nil {
		return errors.New("telegram returned no video")
	}
	return nil
}

// Publish implements progress.Sink. Events for runs without a status
// message, or beyond the buffer, are dropped.
func (b *TelegramBot) Publish(e progress.Event) {
	select {
	case b.events <- e:
	default:
	}
}

func (b *TelegramBot) runProgress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			if e.State == progress.StateClosed {
				b.untrack(e.RunID)
				continue
			}
			b.trackMu.Lock()
			sm, ok := b.tracked[e.RunID]
			if !ok || (e.Percent < 100 && time.Since(sm.last) < progressThrottle) {
				b.trackMu.Unlock()
				continue
			}
			sm.last = time.Now()
			chatID, msgID := sm.chatID, sm.msgID
			b.trackMu.Unlock()
			_ = b.editMessage(chatID, msgID, progressText(e))
		}
	}
}

// track routes progress events of runID to a status message.
func (b *TelegramBot) track(runID string, chatID int64, msgID int) {
	b.trackMu.Lock()
	b.tracked[runID] = &statusMessage{chatID: chatID, msgID: msgID}
	b.trackMu.Unlock()
}

func (b *TelegramBot) untrack(runID string) {
	b.trackMu.Lock()
	delete(b.tracked, runID)
	b.trackMu.Unlock()
}

func progressText(e progress.Event) string {
	pct := int(e.Percent)
	pct = max(0, min(pct, 100))
	filled := pct / 10
	bar := strings.Repeat("▓", filled) + strings.Repeat("░", 10-filled)
	text := fmt.Sprintf("⏳ %s %s %d%%", stageLabel(model.Stage(e.Stage)), bar, pct)
	if e.Message != "" {
		text += "\n" + e.Message
	}
	return text
}

var stageLabels = map[model.Stage]string{
	model.StageAcquire:    "download",
	model.StageProbe:      "analisi",
	model.StageExtract:    "estrazione audio",
	model.StageTranscribe: "trascrizione",
	model.StageRewrite:    "riscrittura",
	model.StageSynthesize: "sintesi vocale",
	model.StageTransform:  "trasformazioni",
	model.StageRender:     "render",
	model.StageStore:      "salvataggio",
}

func stageLabel(s model.Stage) string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// failText is the chat message for a failed stage.
func failText(err error) string {
	if errors.Is(err, context.Canceled) {
		return "⛔ Operazione annullata"
	}
	if errors.Is(err, pipeline.ErrInvalidState) {
		return "❌ Operazione non possibile ora: " + err.Error()
	}
	text := "❌ Errore"
	if st := model.StageOf(err); st != "" {
		text = fmt.Sprintf("❌ %s fallito", strings.ToUpper(stageLabel(st)[:1])+stageLabel(st)[1:])
	}
	text += ": " + err.Error()
	switch {
	case errors.Is(err, model.ErrStaleVoice):
		text += "\n\nLo script è cambiato: usa /synth per rigenerare la voce."
	case errors.Is(err, model.ErrConfiguration):
		text += "\n\nControlla le credenziali oppure scegli un altro provider con /voice."
	case errors.Is(err, model.ErrNoSpeech):
		text += "\n\nNessun parlato nel video: prova /mode silent o /mode original."
	}
	return text
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (b *TelegramBot) replyText(chatID int64, text string) int {
	m := tgbotapi.NewMessage(chatID, truncateRunes(text, maxMessage))
	sent, err := b.tg.Send(m)
	if err != nil {
		b.log.Warnf("send to %d: %v", chatID, err)
	}
	return sent.MessageID
}

func (b *TelegramBot) replyHTML(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) int {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		m.ReplyMarkup = *markup
	}
	sent, err := b.tg.Send(m)
	if err != nil {
		b.log.Warnf("send to %d: %v", chatID, err)
	}
	return sent.MessageID
}

func (b *TelegramBot) editMessage(chatID int64, messageID int, text string) error {
	if messageID == 0 {
		b.replyText(chatID, text)
		return nil
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncateRunes(text, maxMessage))
	_, err := b.tg.Send(edit)
	return err
}

func pre(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

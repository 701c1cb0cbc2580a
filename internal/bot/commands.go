package bot

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/scheduler"
	"remix-studio/internal/sources"
	"remix-studio/internal/uploaders"
)

func (b *TelegramBot) cmdHelp(chatID int64) {
	help := `Comandi:
/remix <link> — scarica il video e prepara il remix (oppure invia direttamente un video)
/mode <voiced|silent|original> — audio: voce nuova, muto o audio originale
/style <virale|educativo|misterioso|emozionale> — stile dello script
/voice <free|openai|elevenlabs> [voce] — provider e voce della sintesi
/anti <on|off> — trasformazioni anti-rilevamento
/flip <on|off> — specchia il video
/speed <0.95-1.05> — velocità
/preset [nome] — applica un preset (senza nome: elenco)
/script [nuovo] — mostra lo script, "nuovo" lo riscrive
/edit <testo> — sostituisce lo script
/synth — genera la voce
/render [nome] [force] — crea il video finale
/publish [piattaforme] — pubblica l'ultimo render
/discover <ricerca> — cerca un video da remixare
/status — stato del remix corrente e del servizio
/errors — ultimi errori
/reset — ricomincia con le impostazioni predefinite

Flusso: /remix → controlla lo script → /edit se serve → /render.
Le modifiche allo script scartano la voce già generata.`
	b.replyText(chatID, help)
}

func (b *TelegramBot) cmdRemix(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.replyText(chatID, "Uso: /remix <link> (TikTok, YouTube, Instagram, Reddit o link diretto)")
		return
	}
	b.withRun(chatID, func(sess *session) {
		b.startRun(ctx, chatID, sess, pipeline.Input{URL: args})
	})
}

// startRun acquires the source on a fresh run, keeping the chat's options,
// then prepares the script for voiced runs.
func (b *TelegramBot) startRun(ctx context.Context, chatID int64, sess *session, in pipeline.Input) {
	run := sess.run
	if run.State != pipeline.StateEmpty {
		b.deps.Engine.Cleanup(run)
		opts := run.Options
		opts.OutputName, opts.Overwrite = "", false
		run = b.sessions.renew(chatID, sess, opts)
	}

	statusID := b.replyText(chatID, "⏳ Scarico il video...")
	b.track(run.ID, chatID, statusID)
	err := b.deps.Engine.Acquire(ctx, run, in)
	b.untrack(run.ID)
	if err != nil {
		b.log.Errorf("chat %d: acquire %s: %v", chatID, in, err)
		_ = b.editMessage(chatID, statusID, failText(err))
		return
	}
	_ = b.editMessage(chatID, statusID, "✅ Video pronto: "+describeAsset(run.Asset))
	b.prepare(ctx, chatID, run)
}

func describeAsset(a *model.VideoAsset) string {
	dur := "durata sconosciuta"
	if a.HasDuration() {
		dur = fmt.Sprintf("%.0fs", *a.Duration)
	}
	return fmt.Sprintf("%s (%.1f MB, %s)", a.Filename, a.SizeMB(), dur)
}

func (b *TelegramBot) prepare(ctx context.Context, chatID int64, run *pipeline.Run) {
	if run.Options.Strategy != model.AudioVoiced {
		kb := renderKeyboard(run.ID)
		b.replyHTML(chatID, fmt.Sprintf("Audio <b>%s</b>: nessuno script necessario. Usa /render quando sei pronto.",
			run.Options.Strategy), &kb)
		return
	}

	statusID := b.replyText(chatID, "⏳ Trascrivo e riscrivo il testo...")
	b.track(run.ID, chatID, statusID)
	err := b.deps.Engine.PrepareScript(ctx, run)
	b.untrack(run.ID)
	if err != nil {
		b.log.Errorf("chat %d: run %s: %v", chatID, run.ID, err)
		_ = b.editMessage(chatID, statusID, failText(err))
		return
	}
	if run.State == pipeline.StateSilentFallback {
		_ = b.editMessage(chatID, statusID, "⚠️ Il video non ha audio utilizzabile: il remix sarà muto. Usa /render.")
		return
	}
	_ = b.editMessage(chatID, statusID, "✅ Script pronto")
	b.sendScript(chatID, run)
}

func (b *TelegramBot) sendScript(chatID int64, run *pipeline.Run) {
	s := run.Script
	head := fmt.Sprintf("📝 <b>Script %s</b> (%d parole, ~%.0fs", s.Style.Label(), s.WordCount, s.EstimatedDuration)
	if target := run.TargetSeconds(); target > 0 {
		head += fmt.Sprintf(" su %.0fs di video", target)
	}
	head += ")"
	if s.Edited {
		head += " ✏️"
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎙 Sintetizza", "synth:"+run.ID),
			tgbotapi.NewInlineKeyboardButtonData("🎬 Render", "render:"+run.ID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Riscrivi", "rewrite:"+run.ID),
		),
	)
	body := html.EscapeString(truncateRunes(s.Text, 3000))
	b.replyHTML(chatID, head+"\n\n"+body+"\n\nModifica con /edit <testo>", &kb)
}

func renderKeyboard(runID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🎬 Render", "render:"+runID),
	))
}

func (b *TelegramBot) cmdMode(chatID int64, args string) {
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()
	if args == "" {
		b.replyText(chatID, fmt.Sprintf("Audio attuale: %s. Uso: /mode <voiced|silent|original>", sess.run.Options.Strategy))
		return
	}
	if err := applyMode(sess.run, args); err != nil {
		b.replyText(chatID, "❌ "+err.Error())
		return
	}
	b.replyText(chatID, fmt.Sprintf("✅ Audio: %s", sess.run.Options.Strategy))
}

func (b *TelegramBot) cmdStyle(chatID int64, args string) {
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()
	if args == "" {
		labels := lo.Map(model.Styles(), func(s model.Style, _ int) string { return s.Label() })
		b.replyText(chatID, fmt.Sprintf("Stile attuale: %s. Disponibili: %s", sess.run.Options.Style.Label(), strings.Join(labels, ", ")))
		return
	}
	if err := applyStyle(&sess.run.Options, args); err != nil {
		b.replyText(chatID, "❌ "+err.Error())
		return
	}
	text := fmt.Sprintf("✅ Stile: %s", sess.run.Options.Style.Label())
	if sess.run.Script != nil && sess.run.Script.Style != sess.run.Options.Style {
		text += "\nUsa /script nuovo per riscrivere lo script con questo stile."
	}
	b.replyText(chatID, text)
}

func (b *TelegramBot) cmdVoice(chatID int64, args string) {
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()
	opts := &sess.run.Options
	if args == "" {
		var lines []string
		for _, p := range model.Providers() {
			voices := b.deps.Voices.Voices(p)
			lines = append(lines, fmt.Sprintf("%s (predefinita %s): %s", p, b.deps.Voices.DefaultVoice(p), strings.Join(voices, ", ")))
		}
		current := opts.Voice
		if current == "" {
			current = b.deps.Voices.DefaultVoice(opts.Provider)
		}
		b.replyText(chatID, fmt.Sprintf("Voce attuale: %s/%s\n\n%s", opts.Provider, current, strings.Join(lines, "\n")))
		return
	}
	if err := applyVoice(opts, args, b.deps.Voices); err != nil {
		b.replyText(chatID, "❌ "+err.Error())
		return
	}
	text := fmt.Sprintf("✅ Voce: %s", opts.Provider)
	if opts.Voice != "" {
		text += "/" + opts.Voice
	}
	if sess.run.Voice != nil {
		text += "\nLa voce già generata resta in uso: /synth per rigenerarla."
	}
	if warn := providerWarning(b.deps.Voices, opts.Provider); warn != "" {
		text += "\n" + warn
	}
	b.replyText(chatID, text)
}

// cmdOption applies a one-argument anti-detection setting.
func (b *TelegramBot) cmdOption(chatID int64, args string, apply func(*pipeline.Options, string) error) {
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()
	if args == "" {
		b.replyText(chatID, "Manca il valore. /help per l'uso.")
		return
	}
	if err := apply(&sess.run.Options, args); err != nil {
		b.replyText(chatID, "❌ "+err.Error())
		return
	}
	a := sess.run.Options.AntiDetection
	b.replyText(chatID, fmt.Sprintf("✅ anti=%t flip=%t speed=%.2f", a.Enabled, a.FlipHorizontal, a.SpeedFactor))
}

func (b *TelegramBot) cmdPreset(chatID int64, args string) {
	if b.deps.Presets == nil || len(b.deps.Presets.Names()) == 0 {
		b.replyText(chatID, "Nessun preset configurato")
		return
	}
	if args == "" {
		b.replyText(chatID, "Preset: "+strings.Join(b.deps.Presets.Names(), ", "))
		return
	}
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	opts, err := b.deps.Presets.Apply(args, sess.run.Options)
	if err != nil {
		b.replyText(chatID, "❌ "+err.Error())
		return
	}
	if opts.Strategy != sess.run.Options.Strategy && !modeChangeable(sess.run.State) {
		b.replyText(chatID, "❌ "+errModeLocked.Error())
		return
	}
	sess.run.Options = opts
	b.replyText(chatID, "✅ Preset "+args+" applicato\n\n"+sess.run.Summary())
}

func (b *TelegramBot) cmdScript(ctx context.Context, chatID int64, args string) {
	b.withRun(chatID, func(sess *session) {
		run := sess.run
		switch {
		case run.State == pipeline.StateEmpty:
			b.replyText(chatID, "Nessun video: usa /remix <link> o invia un video")
		case run.Options.Strategy != model.AudioVoiced || run.State == pipeline.StateSilentFallback:
			b.replyText(chatID, "Questo remix non usa uno script")
		case run.Script != nil && args == "":
			b.sendScript(chatID, run)
		case run.Transcript != "":
			statusID := b.replyText(chatID, "⏳ Riscrivo lo script...")
			if err := b.deps.Engine.Rewrite(ctx, run); err != nil {
				_ = b.editMessage(chatID, statusID, failText(err))
				return
			}
			_ = b.editMessage(chatID, statusID, "✅ Script riscritto")
			b.sendScript(chatID, run)
		default:
			b.prepare(ctx, chatID, run)
		}
	})
}

func (b *TelegramBot) cmdEdit(chatID int64, args string) {
	if args == "" {
		b.replyText(chatID, "Uso: /edit <nuovo testo dello script>")
		return
	}
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()

	hadVoice := sess.run.Voice != nil
	if err := b.deps.Engine.EditScript(sess.run, args); err != nil {
		b.replyText(chatID, failText(err))
		return
	}
	text := fmt.Sprintf("✏️ Script aggiornato: %d parole, ~%.0fs", sess.run.Script.WordCount, sess.run.Script.EstimatedDuration)
	if hadVoice {
		text += "\nLa voce precedente è stata scartata."
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🎙 Sintetizza", "synth:"+sess.run.ID),
		tgbotapi.NewInlineKeyboardButtonData("🎬 Render", "render:"+sess.run.ID),
	))
	b.replyHTML(chatID, html.EscapeString(text), &kb)
}

func (b *TelegramBot) cmdSynth(ctx context.Context, chatID int64) {
	b.withRun(chatID, func(sess *session) {
		run := sess.run
		statusID := b.replyText(chatID, fmt.Sprintf("⏳ Genero la voce con %s...", run.Options.Provider))
		if err := b.deps.Engine.Synthesize(ctx, run); err != nil {
			b.log.Errorf("chat %d: run %s: %v", chatID, run.ID, err)
			_ = b.editMessage(chatID, statusID, failText(err))
			return
		}
		dur := ""
		if run.Voice.Duration != nil {
			dur = fmt.Sprintf(", %.1fs", *run.Voice.Duration)
		}
		_ = b.editMessage(chatID, statusID, fmt.Sprintf("🎙 Voce pronta (%s/%s%s)", run.Voice.Provider, run.Voice.VoiceID, dur))
		kb := renderKeyboard(run.ID)
		b.replyHTML(chatID, "Pronto per il render.", &kb)
	})
}

func (b *TelegramBot) cmdRender(ctx context.Context, chatID int64, args string) {
	b.withRun(chatID, func(sess *session) {
		run := sess.run
		if run.State == pipeline.StateEmpty {
			b.replyText(chatID, "Nessun video: usa /remix <link> o invia un video")
			return
		}
		run.Options.OutputName, run.Options.Overwrite = renderArgs(args)

		statusID := b.replyText(chatID, "⏳ Render in corso...")
		b.track(run.ID, chatID, statusID)
		err := b.deps.Engine.Finish(ctx, run)
		b.untrack(run.ID)
		if err != nil {
			b.log.Errorf("chat %d: run %s: %v", chatID, run.ID, err)
			_ = b.editMessage(chatID, statusID, failText(err))
			return
		}
		_ = b.editMessage(chatID, statusID, "✅ Render completato")
		b.sendResult(chatID, run)
	})
}

func (b *TelegramBot) sendResult(chatID int64, run *pipeline.Run) {
	pv := run.Result
	caption := fmt.Sprintf("🎬 Remix %s · audio %s", pv.ID, pv.AudioStrategy)
	if pv.Duration != nil {
		caption += fmt.Sprintf(" · %.0fs", *pv.Duration)
	}
	if pv.HashDistance != nil {
		caption += fmt.Sprintf(" · distanza hash %d", *pv.HashDistance)
	}

	var markup *tgbotapi.InlineKeyboardMarkup
	if b.deps.Publisher != nil {
		if platforms := b.deps.Publisher.AvailablePlatforms(); len(platforms) > 0 {
			rows := [][]tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📤 Pubblica ovunque", "publish:"+run.ID)),
			}
			row := lo.Map(platforms, func(p string, _ int) tgbotapi.InlineKeyboardButton {
				return tgbotapi.NewInlineKeyboardButtonData(p, "pubto:"+p+":"+run.ID)
			})
			rows = append(rows, row)
			kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
			markup = &kb
		}
	}
	if err := b.sendVideo(chatID, pv.Path, caption, markup); err != nil {
		b.log.Errorf("send result %s: %v", pv.Path, err)
		b.replyText(chatID, fmt.Sprintf("⚠️ Non riesco a inviare il video (%v). File salvato in %s", err, pv.Path))
	}
}

func (b *TelegramBot) cmdPublish(ctx context.Context, chatID int64, args string) {
	b.withRun(chatID, func(sess *session) {
		if sess.run.Result == nil {
			b.replyText(chatID, "Nessun remix pronto: usa /render")
			return
		}
		b.publish(ctx, chatID, sess.run.Result, "", strings.Fields(args), false)
	})
}

// publish uploads pv to the given platforms, or to all of them, and records
// the outcome in the archive. archived is true when pv already is there.
func (b *TelegramBot) publish(ctx context.Context, chatID int64, pv *model.ProcessedVideo, caption string, platforms []string, archived bool) {
	if b.deps.Publisher == nil || len(b.deps.Publisher.AvailablePlatforms()) == 0 {
		b.replyText(chatID, "Nessuna piattaforma configurata")
		return
	}
	req := uploaders.NewRequest(pv)
	if caption != "" {
		req.Caption, req.Description = caption, caption
	}

	statusID := b.replyText(chatID, "⏳ Pubblico...")
	var results map[string]*uploaders.UploadResult
	if len(platforms) == 0 {
		results = b.deps.Publisher.UploadToAll(ctx, req)
	} else {
		results = b.deps.Publisher.UploadToSelected(ctx, platforms, req)
	}
	_ = b.editMessage(chatID, statusID, formatResults(results))

	if b.deps.Archive == nil {
		return
	}
	if !archived {
		if _, err := b.deps.Archive.Save(ctx, pv, req.Caption); err != nil {
			b.log.Errorf("archive %s: %v", pv.ID, err)
			return
		}
	}
	var ok []string
	for p, r := range results {
		if r.Success {
			ok = append(ok, p)
		}
	}
	if len(ok) > 0 {
		if err := b.deps.Archive.MarkPublished(ctx, pv.ID, ok); err != nil {
			b.log.Errorf("mark published %s: %v", pv.ID, err)
		}
	}
}

func formatResults(results map[string]*uploaders.UploadResult) string {
	platforms := lo.Keys(results)
	sort.Strings(platforms)
	lines := []string{"📤 Pubblicazione:"}
	for _, p := range platforms {
		r := results[p]
		if r.Success {
			lines = append(lines, fmt.Sprintf("✅ %s: %s", p, r.URL))
		} else {
			lines = append(lines, fmt.Sprintf("❌ %s: %s", p, r.Error))
		}
	}
	return strings.Join(lines, "\n")
}

// publishRecent publishes a scheduled remix, from local disk when it is
// still there or from the archive otherwise.
func (b *TelegramBot) publishRecent(ctx context.Context, chatID int64, id string) {
	go func() {
		b.recentMu.Lock()
		pv, ok := b.recent[id]
		b.recentMu.Unlock()

		if ok {
			if _, err := os.Stat(pv.Path); err != nil {
				ok = false
			}
		}
		caption := ""
		if !ok {
			if b.deps.Archive == nil {
				b.replyText(chatID, "❌ Remix non più disponibile")
				return
			}
			rec, err := b.deps.Archive.Get(ctx, id)
			if err != nil {
				b.replyText(chatID, fmt.Sprintf("❌ Remix non trovato: %v", err))
				return
			}
			dst := filepath.Join(b.cfg.TempDir, "publish_"+id+".mp4")
			if err := os.MkdirAll(b.cfg.TempDir, 0o755); err != nil {
				b.replyText(chatID, fmt.Sprintf("❌ %v", err))
				return
			}
			if err := b.deps.Archive.Fetch(ctx, id, dst); err != nil {
				b.replyText(chatID, fmt.Sprintf("❌ Download dall'archivio fallito: %v", err))
				return
			}
			defer os.Remove(dst)
			pv = &model.ProcessedVideo{ID: id, Path: dst}
			caption = rec.Caption
		}
		b.publish(ctx, chatID, pv, caption, nil, true)

		b.recentMu.Lock()
		delete(b.recent, id)
		b.recentMu.Unlock()
	}()
}

func (b *TelegramBot) cmdStatus(ctx context.Context, chatID int64) {
	var lines []string

	sess := b.sessions.get(chatID)
	if sess.mu.TryLock() {
		lines = append(lines, sess.run.Summary())
		sess.mu.Unlock()
	} else {
		lines = append(lines, "run "+b.sessions.runID(chatID)+": operazione in corso")
	}

	if b.deps.Scheduler != nil {
		if sched := b.deps.Scheduler.GetSchedule(); sched != nil {
			done := lo.CountBy(sched.Entries, func(e scheduler.ScheduleEntry) bool { return e.Done })
			line := fmt.Sprintf("\nprogrammazione %s: %d/%d slot eseguiti", sched.Date, done, len(sched.Entries))
			if next := sched.Next(time.Now()); next != nil {
				line += ", prossimo alle " + next.Format("15:04")
			}
			lines = append(lines, line)
		}
	}
	if b.deps.Publisher != nil {
		lines = append(lines, "piattaforme: "+strings.Join(b.deps.Publisher.AvailablePlatforms(), ", "))
	}
	if b.deps.Archive != nil {
		if items, err := b.deps.Archive.List(ctx); err != nil {
			lines = append(lines, "archivio: errore "+err.Error())
		} else {
			lines = append(lines, fmt.Sprintf("archivio: %d remix", len(items)))
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	lines = append(lines, fmt.Sprintf("memoria: heap %d MB, goroutine %d", ms.HeapAlloc>>20, runtime.NumGoroutine()))

	b.replyHTML(chatID, pre(strings.Join(lines, "\n")), nil)
}

func (b *TelegramBot) cmdDiscover(ctx context.Context, chatID int64, args string) {
	if len(b.deps.Sources) == 0 {
		b.replyText(chatID, "Nessuna sorgente di ricerca configurata")
		return
	}
	b.withRun(chatID, func(sess *session) {
		statusID := b.replyText(chatID, "🔎 Cerco...")
		q := sources.Query{Text: args, MinViews: b.cfg.MinViews, MaxViews: b.cfg.MaxViews}

		var errs []string
		for _, src := range b.deps.Sources {
			found, err := src.Discoverer.Discover(ctx, q)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			sess.found = found
			text := fmt.Sprintf("🎯 %s\n👁 %d · %s\n%s", lo.Ternary(found.Title != "", found.Title, found.ID), found.Views, found.Source, found.URL)
			_ = b.editMessage(chatID, statusID, text)
			kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🎬 Remixa", "remixfound:"+sess.run.ID),
			))
			b.replyHTML(chatID, "Vuoi remixarlo?", &kb)
			return
		}
		_ = b.editMessage(chatID, statusID, "😶 Nessun video trovato\n"+strings.Join(errs, "\n"))
	})
}

func (b *TelegramBot) cmdErrors(chatID int64) {
	lines, err := TailLastNLines(b.errorsPath, 20)
	if err != nil {
		if os.IsNotExist(err) {
			b.replyText(chatID, "📋 errors.log è vuoto")
			return
		}
		b.log.Errorf("read errors.log: %v", err)
		b.replyText(chatID, "❌ Impossibile leggere errors.log")
		return
	}
	if len(lines) == 0 {
		b.replyText(chatID, "📋 errors.log è vuoto")
		return
	}
	b.replyHTML(chatID, "📋 Ultimi errori:\n"+pre(truncateRunes(strings.Join(lines, "\n"), 3500)), nil)

	f, err := os.Open(b.errorsPath)
	if err != nil {
		return
	}
	defer f.Close()
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: "errors.log", Reader: f})
	if _, err := b.tg.Send(doc); err != nil {
		b.log.Errorf("send errors.log: %v", err)
	}
}

func (b *TelegramBot) cmdReset(chatID int64) {
	sess, ok := b.lockRun(chatID)
	if !ok {
		return
	}
	defer sess.mu.Unlock()
	b.deps.Engine.Cleanup(sess.run)
	sess.found = nil
	run := b.sessions.renew(chatID, sess, pipeline.DefaultOptions(b.cfg))
	b.replyText(chatID, "🔄 Nuovo remix con impostazioni predefinite\n\n"+run.Summary())
}

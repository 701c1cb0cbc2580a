package ai

import (
	"fmt"
	"strings"

	"remix-studio/internal/model"
)

const rewriteSystemPrompt = "Sei un esperto copywriter per contenuti virali social."

const (
	rewriteTemperature = 0.8
	rewriteMaxTokens   = 500
)

var rewriteRules = []string{
	"Mantieni il messaggio principale",
	"Usa un linguaggio coinvolgente e diretto",
	"Aggiungi hook iniziale forte",
	"Mantieni la lunghezza appropriata per il video",
	"Scrivi in italiano naturale",
	"Non usare emoji, hashtag o indicazioni di regia",
	"Rispondi solo con il testo da leggere",
}

// rewritePrompt builds the user message. targetSeconds <= 0 means the video
// length is unknown and no word target is given.
func rewritePrompt(text string, style model.Style, targetSeconds float64) string {
	var b strings.Builder
	b.WriteString("Riscrivi questo testo in italiano per un video TikTok/YouTube Shorts.\n\n")
	fmt.Fprintf(&b, "Stile richiesto: %s\n", style.Label())
	fmt.Fprintf(&b, "Indicazioni di stile: %s\n", style.Guidance())
	fmt.Fprintf(&b, "Testo originale: %s\n", strings.TrimSpace(text))
	if words := model.TargetWords(targetSeconds); words > 0 {
		fmt.Fprintf(&b, "\nLunghezza target: circa %d parole (per %.0f secondi di video)\n", words, targetSeconds)
	}
	b.WriteString("\nRegole:\n")
	for _, r := range rewriteRules {
		b.WriteString("- " + r + "\n")
	}
	return b.String()
}

// cleanScript strips wrapping quotes and blank lines some models add.
func cleanScript(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"“”«»")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

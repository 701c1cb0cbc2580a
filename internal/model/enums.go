package model

import (
	"fmt"
	"strings"
)

type Style int

const (
	StyleViral Style = iota
	StyleEducational
	StyleMysterious
	StyleEmotional
)

var styleInfo = map[Style]struct {
	name, label, guidance string
}{
	StyleViral: {"viral", "Virale",
		"Tono energico e diretto. Apri con una frase che blocca lo scroll nei primi due secondi, frasi brevi, ritmo alto, chiudi con una domanda o un invito a commentare."},
	StyleEducational: {"educational", "Educativo",
		"Tono chiaro e autorevole. Spiega un concetto alla volta, usa esempi concreti e numeri quando possibile, chiudi con la cosa piu utile da ricordare."},
	StyleMysterious: {"mysterious", "Misterioso",
		"Tono sospeso e intrigante. Rivela le informazioni poco alla volta, usa pause e domande retoriche, lascia un dettaglio sorprendente per la fine."},
	StyleEmotional: {"emotional", "Emozionale",
		"Tono caldo e personale. Racconta come una storia vissuta, metti al centro le persone e cio che provano, chiudi con un messaggio che resta."},
}

func Styles() []Style {
	return []Style{StyleViral, StyleEducational, StyleMysterious, StyleEmotional}
}

func (s Style) String() string {
	if i, ok := styleInfo[s]; ok {
		return i.name
	}
	return fmt.Sprintf("style(%d)", int(s))
}

// Label is the Italian display name passed to the rewrite prompt.
func (s Style) Label() string { return styleInfo[s].label }

func (s Style) Guidance() string { return styleInfo[s].guidance }

func (s Style) Valid() bool {
	_, ok := styleInfo[s]
	return ok
}

// ParseStyle accepts English names and Italian labels, case-insensitively.
func ParseStyle(v string) (Style, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for st, i := range styleInfo {
		if v == i.name || v == strings.ToLower(i.label) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown style %q", v)
}

func (s Style) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid style %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Style) UnmarshalText(b []byte) error {
	v, err := ParseStyle(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Provider int

const (
	ProviderA Provider = iota // edge-tts, free
	ProviderB                 // OpenAI HD
	ProviderC                 // ElevenLabs
)

var providerNames = map[Provider]string{
	ProviderA: "free",
	ProviderB: "openai",
	ProviderC: "elevenlabs",
}

func Providers() []Provider { return []Provider{ProviderA, ProviderB, ProviderC} }

func (p Provider) String() string {
	if n, ok := providerNames[p]; ok {
		return n
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

func ParseProvider(v string) (Provider, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "a", "edge", "edge-tts":
		return ProviderA, nil
	case "b":
		return ProviderB, nil
	case "c", "11labs":
		return ProviderC, nil
	}
	for p, n := range providerNames {
		if n == v {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown voice provider %q", v)
}

func (p Provider) MarshalText() ([]byte, error) {
	if _, ok := providerNames[p]; !ok {
		return nil, fmt.Errorf("invalid provider %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(b []byte) error {
	v, err := ParseProvider(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type AudioStrategy int

const (
	AudioVoiced   AudioStrategy = iota // replace narration with a synthesized voice
	AudioSilent                        // muted output
	AudioOriginal                      // keep source audio
)

var audioNames = map[AudioStrategy]string{
	AudioVoiced:   "voiced",
	AudioSilent:   "silent",
	AudioOriginal: "original",
}

func (a AudioStrategy) String() string {
	if n, ok := audioNames[a]; ok {
		return n
	}
	return fmt.Sprintf("audio(%d)", int(a))
}

func ParseAudioStrategy(v string) (AudioStrategy, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "voice", "voiceover", "ai":
		return AudioVoiced, nil
	case "mute", "muted", "none":
		return AudioSilent, nil
	case "keep", "source":
		return AudioOriginal, nil
	}
	for a, n := range audioNames {
		if n == v {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown audio strategy %q", v)
}

func (a AudioStrategy) MarshalText() ([]byte, error) {
	if _, ok := audioNames[a]; !ok {
		return nil, fmt.Errorf("invalid audio strategy %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *AudioStrategy) UnmarshalText(b []byte) error {
	v, err := ParseAudioStrategy(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

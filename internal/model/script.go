package model

import (
	"math"
	"strings"
	"time"
)

// WordsPerMinute is the fixed speaking rate used for every duration estimate.
const WordsPerMinute = 150

// Script is a narration text. WordCount and EstimatedDuration are derived
// from Text and recomputed by SetText; never assign Text directly.
type Script struct {
	Text              string    `json:"text"`
	Style             Style     `json:"style"`
	WordCount         int       `json:"word_count"`
	EstimatedDuration float64   `json:"estimated_duration"`
	Original          string    `json:"original,omitempty"`
	Edited            bool      `json:"edited,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func NewScript(text string, style Style) *Script {
	s := &Script{Style: style, CreatedAt: time.Now()}
	s.SetText(text)
	return s
}

func (s *Script) SetText(text string) {
	s.Text = text
	s.WordCount = len(strings.Fields(text))
	s.EstimatedDuration = EstimateDuration(s.WordCount)
}

// EstimateDuration returns seconds of speech for wc words.
func EstimateDuration(wc int) float64 {
	return float64(wc) / WordsPerMinute * 60
}

// TargetWords is the word count that fills seconds of video. Zero means no target.
func TargetWords(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Round(seconds / 60 * WordsPerMinute))
}

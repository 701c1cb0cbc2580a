package model

import "time"

type SourceKind string

const (
	SourceUpload   SourceKind = "upload"
	SourceDownload SourceKind = "download"
)

// VideoAsset is a local source clip. Duration stays nil when ffprobe could
// not read it; callers treat that as unbounded.
type VideoAsset struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	Filename  string     `json:"filename"`
	Source    SourceKind `json:"source"`
	SourceURL string     `json:"source_url,omitempty"`
	Duration  *float64   `json:"duration,omitempty"`
	SizeBytes int64      `json:"size_bytes"`
	SHA256    string     `json:"sha256,omitempty"`
	Strategy  string     `json:"strategy,omitempty"` // acquisition strategy that produced the file
	CreatedAt time.Time  `json:"created_at"`
}

func (a *VideoAsset) HasDuration() bool {
	return a != nil && a.Duration != nil && *a.Duration > 0
}

// SetDuration fills the lazily probed duration once.
func (a *VideoAsset) SetDuration(d float64) {
	if a.Duration != nil || d <= 0 {
		return
	}
	a.Duration = &d
}

func (a *VideoAsset) SizeMB() float64 {
	return float64(a.SizeBytes) / (1024 * 1024)
}

type VoiceTrack struct {
	Path      string    `json:"path"`
	VoiceID   string    `json:"voice_id"`
	Provider  Provider  `json:"provider"`
	Duration  *float64  `json:"duration,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessedVideo is one render. Every render gets its own ID, so several
// renders of the same run can be archived side by side.
type ProcessedVideo struct {
	ID                   string               `json:"id"`
	RunID                string               `json:"run_id,omitempty"`
	Path                 string               `json:"path"`
	OriginalVideo        VideoAsset           `json:"original_video"`
	Script               *Script              `json:"script,omitempty"`
	Voiceover            *VoiceTrack          `json:"voiceover,omitempty"`
	HasAudio             bool                 `json:"has_audio"`
	AudioStrategy        AudioStrategy        `json:"audio_strategy"`
	AntiDetectionApplied bool                 `json:"anti_detection_applied"`
	AntiDetection        *AntiDetectionConfig `json:"anti_detection,omitempty"`
	Duration             *float64             `json:"duration,omitempty"`
	HashDistance         *int                 `json:"hash_distance,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
}

// Discovered is what a discoverer hands to the resolver.
type Discovered struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Views  int64  `json:"views"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source"`
}

// RemixRecord is one archived remix in remixes.json.
type RemixRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	VideoKey   string    `json:"video_key"`
	SidecarKey string    `json:"sidecar_key"`
	SourceURL  string    `json:"source_url,omitempty"`
	Style      string    `json:"style,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Caption    string    `json:"caption,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	Published  []string  `json:"published,omitempty"`
}

type RemixIndex struct {
	UpdatedAt time.Time     `json:"updated_at"`
	Items     []RemixRecord `json:"items"`
}

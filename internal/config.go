package internal

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramToken string
	AdminChatID   int64 // chat that receives scheduled remixes and memory alerts

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	RemixesPrefix   string
	TokensPrefix    string
	RemixesJSONKey  string
	ScheduleJSONKey string

	// Local working directories
	UploadsDir   string
	DownloadsDir string
	TempDir      string
	OutputDir    string

	FFmpegPath        string
	FFprobePath       string
	FFmpegConcurrency int
	FFmpegThreads     int
	EncodePreset      string
	EncodeCRF         int
	AudioBitrate      string
	OutputFPS         int
	OutputWidth       int
	OutputHeight      int

	MaxUploadMB      int64
	MaxVideoDuration float64 // seconds; longer sources are accepted with a warning
	SupportedFormats []string

	// Zero or negative disables the limit.
	AcquireTimeout time.Duration // per acquisition strategy
	ServiceTimeout time.Duration // transcribe / rewrite / synthesize calls
	RenderTimeout  time.Duration

	YTDLPPath             string
	PrimaryUserAgent      string
	PrimaryCookiesBrowser string
	FallbackUserAgent     string
	FallbackCookies       string
	TikWMEndpoint         string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	RewriteModel      string
	TranscribeModel   string
	TranscribeBackend string // openai | local
	WhisperCLIPath    string
	WhisperModel      string
	Language          string

	GeminiAPIKey  string
	GeminiModel   string
	RewriteEngine string // openai | gemini

	EdgeTTSPath      string
	TTSModel         string
	ElevenLabsAPIKey string
	ElevenLabsModel  string
	ElevenLabsVoices []string
	ElevenLabsURL    string

	AntiRotation float64
	AntiZoom     float64
	AntiColor    float64
	AntiVolume   float64
	AntiSpeed    float64
	AntiFlip     bool

	DailyRemixes     int
	DiscoveryQueries []string
	Subreddits       []string
	MinViews         int64
	MaxViews         int64

	MaxAge      time.Duration // archived remixes older than this are removed
	TempMaxAge  time.Duration
	PresetsPath string

	ProgressAddr string // websocket progress endpoint, disabled when empty

	PostsChatID          string // telegram channel for published remixes
	XConsumerKey         string
	XConsumerSecret      string
	XAccessToken         string
	XAccessTokenSecret   string
	YouTubeClientSecrets string
	YouTubeToken         string
	UploadPostAPIKey     string // upload-post.com, used for Instagram Reels
	InstagramUsername    string
}

func LoadConfig() (Config, error) {
	assets := firstNonEmpty(os.Getenv("ASSETS_DIR"), "assets")
	cfg := Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3Region:      os.Getenv("S3_REGION"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3AccessKey:   firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:   firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),

		RemixesPrefix:   "remixes/",
		TokensPrefix:    "tokens/",
		RemixesJSONKey:  "remixes.json",
		ScheduleJSONKey: "schedule.json",

		UploadsDir:   filepath.Join(assets, "uploads"),
		DownloadsDir: filepath.Join(assets, "downloaded"),
		TempDir:      filepath.Join(assets, "temp"),
		OutputDir:    filepath.Join(assets, "processed"),

		FFmpegPath:        firstNonEmpty(os.Getenv("FFMPEG_PATH"), "ffmpeg"),
		FFprobePath:       firstNonEmpty(os.Getenv("FFPROBE_PATH"), "ffprobe"),
		FFmpegConcurrency: 1,
		FFmpegThreads:     2,
		EncodePreset:      firstNonEmpty(os.Getenv("ENCODE_PRESET"), "veryfast"),
		EncodeCRF:         23,
		AudioBitrate:      "192k",
		OutputFPS:         30,
		OutputWidth:       1080,
		OutputHeight:      1920,

		MaxUploadMB:      100,
		MaxVideoDuration: 180,
		SupportedFormats: []string{".mp4", ".mov", ".avi", ".mkv"},

		AcquireTimeout: 120 * time.Second,
		ServiceTimeout: 120 * time.Second,
		RenderTimeout:  15 * time.Minute,

		YTDLPPath:             firstNonEmpty(os.Getenv("YTDLP_PATH"), "yt-dlp"),
		PrimaryUserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		PrimaryCookiesBrowser: firstNonEmpty(os.Getenv("YTDLP_COOKIES_BROWSER"), "chrome"),
		FallbackUserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		FallbackCookies:       os.Getenv("YTDLP_FALLBACK_COOKIES_BROWSER"),
		TikWMEndpoint:         firstNonEmpty(os.Getenv("TIKWM_ENDPOINT"), "https://www.tikwm.com/api/"),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		RewriteModel:      firstNonEmpty(os.Getenv("REWRITE_MODEL"), "gpt-4o"),
		TranscribeModel:   firstNonEmpty(os.Getenv("TRANSCRIBE_MODEL"), "whisper-1"),
		TranscribeBackend: strings.ToLower(os.Getenv("TRANSCRIBE_BACKEND")),
		WhisperCLIPath:    firstNonEmpty(os.Getenv("WHISPER_PATH"), "whisper"),
		WhisperModel:      firstNonEmpty(os.Getenv("WHISPER_MODEL"), "base"),
		Language:          firstNonEmpty(os.Getenv("LANGUAGE"), "it"),

		GeminiAPIKey:  firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
		GeminiModel:   firstNonEmpty(os.Getenv("GEMINI_MODEL"), "gemini-2.0-flash"),
		RewriteEngine: strings.ToLower(os.Getenv("REWRITE_ENGINE")),

		EdgeTTSPath:      firstNonEmpty(os.Getenv("EDGE_TTS_PATH"), "edge-tts"),
		TTSModel:         firstNonEmpty(os.Getenv("TTS_MODEL"), "tts-1-hd"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsModel:  firstNonEmpty(os.Getenv("ELEVENLABS_MODEL"), "eleven_multilingual_v2"),
		ElevenLabsVoices: splitList(os.Getenv("ELEVENLABS_VOICES")),
		ElevenLabsURL:    firstNonEmpty(os.Getenv("ELEVENLABS_URL"), "https://api.elevenlabs.io"),

		AntiRotation: 1.5,
		AntiZoom:     1.15,
		AntiColor:    1.03,
		AntiVolume:   0.98,
		AntiSpeed:    1.0,

		DailyRemixes:     3,
		DiscoveryQueries: splitList(firstNonEmpty(os.Getenv("DISCOVERY_QUERIES"), "storie vere,curiosità")),
		Subreddits:       splitList(firstNonEmpty(os.Getenv("SUBREDDITS"), "interestingasfuck,nextfuckinglevel")),
		MinViews:         30000,
		MaxViews:         100000,

		MaxAge:      7 * 24 * time.Hour,
		TempMaxAge:  6 * time.Hour,
		PresetsPath: firstNonEmpty(os.Getenv("PRESETS_PATH"), "presets.yaml"),

		ProgressAddr: os.Getenv("PROGRESS_ADDR"),

		PostsChatID:          firstNonEmpty(os.Getenv("POSTS_CHAT_ID"), os.Getenv("POSTS_CHATID")),
		XConsumerKey:         os.Getenv("X_CONSUMER_KEY"),
		XConsumerSecret:      os.Getenv("X_CONSUMER_SECRET"),
		XAccessToken:         os.Getenv("X_ACCESS_TOKEN"),
		XAccessTokenSecret:   os.Getenv("X_ACCESS_TOKEN_SECRET"),
		YouTubeClientSecrets: firstNonEmpty(os.Getenv("YOUTUBE_CLIENT_SECRETS"), "client_secrets.json"),
		YouTubeToken:         firstNonEmpty(os.Getenv("YOUTUBE_TOKEN"), "token.json"),
		UploadPostAPIKey:     os.Getenv("UPLOAD_POST_API_KEY"),
		InstagramUsername:    os.Getenv("INSTAGRAM_USERNAME"),
	}

	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.AdminChatID = n
		}
	}

	intEnv("FFMPEG_CONCURRENCY", &cfg.FFmpegConcurrency)
	intEnv("FFMPEG_THREADS", &cfg.FFmpegThreads)
	intEnv("ENCODE_CRF", &cfg.EncodeCRF)
	intEnv("OUTPUT_FPS", &cfg.OutputFPS)
	intEnv("OUTPUT_WIDTH", &cfg.OutputWidth)
	intEnv("OUTPUT_HEIGHT", &cfg.OutputHeight)
	intEnv("DAILY_REMIXES", &cfg.DailyRemixes)

	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadMB = n
		}
	}
	if v := os.Getenv("MIN_VIEWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.MinViews = n
		}
	}
	if v := os.Getenv("MAX_VIEWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxViews = n
		}
	}

	floatEnv("MAX_VIDEO_DURATION", &cfg.MaxVideoDuration)
	floatEnv("ANTI_ROTATION", &cfg.AntiRotation)
	floatEnv("ANTI_ZOOM", &cfg.AntiZoom)
	floatEnv("ANTI_COLOR", &cfg.AntiColor)
	floatEnv("ANTI_VOLUME", &cfg.AntiVolume)
	floatEnv("ANTI_SPEED", &cfg.AntiSpeed)
	if v := os.Getenv("ANTI_FLIP"); v != "" {
		cfg.AntiFlip = v == "true" || v == "1"
	}

	durationEnv("ACQUIRE_TIMEOUT", &cfg.AcquireTimeout)
	durationEnv("SERVICE_TIMEOUT", &cfg.ServiceTimeout)
	durationEnv("RENDER_TIMEOUT", &cfg.RenderTimeout)
	durationEnv("MAX_AGE", &cfg.MaxAge)
	durationEnv("TEMP_MAX_AGE", &cfg.TempMaxAge)

	if cfg.TranscribeBackend == "" {
		cfg.TranscribeBackend = "local"
		if cfg.OpenAIAPIKey != "" {
			cfg.TranscribeBackend = "openai"
		}
	}
	if cfg.RewriteEngine == "" {
		cfg.RewriteEngine = "openai"
		if cfg.OpenAIAPIKey == "" && cfg.GeminiAPIKey != "" {
			cfg.RewriteEngine = "gemini"
		}
	}

	if cfg.MinViews > cfg.MaxViews {
		return cfg, errors.New("MIN_VIEWS must not exceed MAX_VIEWS")
	}
	return cfg, nil
}

// S3Enabled reports whether every S3_* variable is set.
func (c Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Region != "" && c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// EnsureDirs creates the local working directories.
func (c Config) EnsureDirs() error {
	for _, d := range []string{c.UploadsDir, c.DownloadsDir, c.TempDir, c.OutputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func floatEnv(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func durationEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is built once by Load and shared read-only afterwards. Sub-configs
// are handed to managers and steps by value.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	DatabaseURL            string        `yaml:"database_url"`
	DatabaseConnectTimeout time.Duration `yaml:"database_connect_timeout"`
	RedisURL               string        `yaml:"redis_url"`

	WorkbenchDir string `yaml:"workbench_dir"`

	PublicStore StorageConfig `yaml:"public_store"`
	QueueStore  StorageConfig `yaml:"queue_store"`

	Worker    WorkerConfig    `yaml:"worker"`
	Push      PushConfig      `yaml:"push"`
	Callback  CallbackConfig  `yaml:"callback"`
	GC        GCConfig        `yaml:"garbage_collection"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Media     MediaConfig     `yaml:"media"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=file memory minio s3"`
	BaseDir   string `yaml:"base_dir" validate:"required_if=Backend file"`
	BaseURL   string `yaml:"base_url"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Backend minio"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket" validate:"required_if=Backend minio,required_if=Backend s3"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency" validate:"gte=1"`
	GroupConcurrency int           `yaml:"group_concurrency" validate:"gte=1"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	MetricsPort      int           `yaml:"metrics_port" validate:"gte=1,lte=65535"`
	// MaxPriority bounds task priorities; priority n is served from queue
	// "default-p<n>".
	MaxPriority int `yaml:"max_priority" validate:"gte=1,lte=10"`
}

type PushConfig struct {
	URLs       []string      `yaml:"urls" validate:"dive,url"`
	RetryCount int           `yaml:"retry_count" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

type CallbackConfig struct {
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	// Channel prefix for status events published on redis. Empty disables.
	RedisChannel string `yaml:"redis_channel"`
}

type GCConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
	BatchSize int           `yaml:"batch_size" validate:"gte=1"`
}

type ReconcileConfig struct {
	Interval        time.Duration `yaml:"interval"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
}

type Size struct {
	MaxWidth  int `yaml:"max_width" validate:"gte=1"`
	MaxHeight int `yaml:"max_height" validate:"gte=1"`
}

type MediaConfig struct {
	Thumb  Size        `yaml:"thumb"`
	Medium Size        `yaml:"medium"`
	Video  VideoConfig `yaml:"video"`
	Ascii  AsciiConfig `yaml:"ascii"`
	Image  ImageConfig `yaml:"image"`
}

type SkipTranscodeConfig struct {
	MimeTypes        []string `yaml:"mime_types"`
	ContainerFormats []string `yaml:"container_formats"`
	VideoCodecs      []string `yaml:"video_codecs"`
	AudioCodecs      []string `yaml:"audio_codecs"`
	DimensionsMatch  bool     `yaml:"dimensions_match"`
}

type VideoConfig struct {
	Enabled              bool                `yaml:"enabled"`
	FFmpegPath           string              `yaml:"ffmpeg_path"`
	FFprobePath          string              `yaml:"ffprobe_path"`
	VP8Quality           int                 `yaml:"vp8_quality" validate:"gte=0,lte=10"`
	VP8Threads           int                 `yaml:"vp8_threads" validate:"gte=0"`
	VorbisQuality        float64             `yaml:"vorbis_quality" validate:"gte=-0.1,lte=1"`
	KeepOriginal         bool                `yaml:"keep_original"`
	DefaultResolution    string              `yaml:"default_resolution"`
	AvailableResolutions []string            `yaml:"available_resolutions" validate:"min=1"`
	SkipTranscode        SkipTranscodeConfig `yaml:"skip_transcode"`
}

type AsciiConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ThumbnailFont string `yaml:"thumbnail_font"`
}

type ImageConfig struct {
	Enabled bool `yaml:"enabled"`
	Quality int  `yaml:"quality" validate:"gte=1,lte=100"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

const (
	EnvConfigFile = "MG_CONFIG"

	DefaultGCInterval  = 60 * time.Minute
	DefaultGCRetention = 24 * time.Hour
	DefaultPushDelay   = 2 * time.Minute
)

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment:            "development",
		LogLevel:               "info",
		DatabaseConnectTimeout: 10 * time.Second,
		WorkbenchDir:           os.TempDir(),
		PublicStore:  StorageConfig{Backend: "memory"},
		QueueStore:   StorageConfig{Backend: "memory"},
		Worker: WorkerConfig{
			Concurrency:      4,
			GroupConcurrency: 4,
			JobTimeout:       60 * time.Minute,
			MetricsPort:      9090,
			MaxPriority:      10,
		},
		Push: PushConfig{
			RetryCount: 3,
			RetryDelay: DefaultPushDelay,
			Timeout:    30 * time.Second,
		},
		Callback: CallbackConfig{
			Timeout:      10 * time.Second,
			RedisChannel: "mediagoblin:entry",
		},
		GC: GCConfig{
			Interval:  DefaultGCInterval,
			Retention: DefaultGCRetention,
			BatchSize: 100,
		},
		Reconcile: ReconcileConfig{
			Interval:        10 * time.Minute,
			LivenessTimeout: 2 * time.Hour,
		},
		Media: MediaConfig{
			Thumb:  Size{MaxWidth: 180, MaxHeight: 180},
			Medium: Size{MaxWidth: 640, MaxHeight: 640},
			Video: VideoConfig{
				Enabled:              true,
				FFmpegPath:           "ffmpeg",
				FFprobePath:          "ffprobe",
				VP8Quality:           8,
				VP8Threads:           2,
				VorbisQuality:        0.3,
				DefaultResolution:    "480p",
				AvailableResolutions: []string{"480p", "360p", "720p"},
				SkipTranscode: SkipTranscodeConfig{
					MimeTypes:        []string{"video/webm"},
					ContainerFormats: []string{"matroska", "webm"},
					VideoCodecs:      []string{"vp8", "vp9"},
					AudioCodecs:      []string{"vorbis", "opus"},
					DimensionsMatch:  true,
				},
			},
			Ascii: AsciiConfig{Enabled: true},
			Image: ImageConfig{Enabled: true, Quality: 85},
		},
		Tracing: TracingConfig{SampleRate: 1.0},
	}
}

// Load reads path (or $MG_CONFIG when path is empty) on top of Default,
// applies MG_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Environment = getEnvString("MG_ENVIRONMENT", c.Environment)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	if c.DatabaseConnectTimeout, err = getEnvDuration("DATABASE_CONNECT_TIMEOUT", c.DatabaseConnectTimeout); err != nil {
		return fmt.Errorf("invalid DATABASE_CONNECT_TIMEOUT: %w", err)
	}
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)
	c.WorkbenchDir = getEnvString("MG_WORKBENCH_DIR", c.WorkbenchDir)

	c.PublicStore = storageFromEnv("MG_PUBLIC_STORE", c.PublicStore)
	c.QueueStore = storageFromEnv("MG_QUEUE_STORE", c.QueueStore)

	c.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.MetricsPort = getEnvInt("METRICS_PORT", c.Worker.MetricsPort)
	if c.Worker.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", c.Worker.JobTimeout); err != nil {
		return fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}

	if urls := os.Getenv("MG_PUSH_URLS"); urls != "" {
		c.Push.URLs = splitList(urls)
	}
	if c.Push.RetryDelay, err = getEnvDuration("MG_PUSH_RETRY_DELAY", c.Push.RetryDelay); err != nil {
		return fmt.Errorf("invalid MG_PUSH_RETRY_DELAY: %w", err)
	}
	c.Callback.Secret = getEnvString("MG_CALLBACK_SECRET", c.Callback.Secret)

	if c.GC.Interval, err = getEnvDuration("MG_GC_INTERVAL", c.GC.Interval); err != nil {
		return fmt.Errorf("invalid MG_GC_INTERVAL: %w", err)
	}
	if c.GC.Retention, err = getEnvDuration("MG_GC_RETENTION", c.GC.Retention); err != nil {
		return fmt.Errorf("invalid MG_GC_RETENTION: %w", err)
	}

	c.Tracing.Enabled = getEnvBool("OTEL_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	return nil
}

func storageFromEnv(prefix string, s StorageConfig) StorageConfig {
	s.Backend = getEnvString(prefix+"_BACKEND", s.Backend)
	s.BaseDir = getEnvString(prefix+"_BASE_DIR", s.BaseDir)
	s.BaseURL = getEnvString(prefix+"_BASE_URL", s.BaseURL)
	s.Endpoint = getEnvString(prefix+"_ENDPOINT", s.Endpoint)
	s.AccessKey = getEnvString(prefix+"_ACCESS_KEY", s.AccessKey)
	s.SecretKey = getEnvString(prefix+"_SECRET_KEY", s.SecretKey)
	s.Bucket = getEnvString(prefix+"_BUCKET", s.Bucket)
	s.Region = getEnvString(prefix+"_REGION", s.Region)
	s.UseSSL = getEnvBool(prefix+"_USE_SSL", s.UseSSL)
	return s
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	v := c.Media.Video
	if v.Enabled {
		found := false
		for _, r := range v.AvailableResolutions {
			if r == v.DefaultResolution {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid config: default_resolution %q not in available_resolutions", v.DefaultResolution)
		}
	}

	if c.GC.Retention <= 0 {
		return fmt.Errorf("invalid config: garbage_collection.retention must be positive")
	}
	if c.Reconcile.LivenessTimeout <= 0 {
		return fmt.Errorf("invalid config: reconcile.liveness_timeout must be positive")
	}
	return nil
}

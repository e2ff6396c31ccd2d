package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the practice service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	JWTSecret      string

	StorageDriver  string
	StorageURL     string
	StorageToken   string
	StorageTimeout time.Duration

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	ScoringURL     string
	ScoringToken   string
	ScoringTimeout time.Duration

	Capture CaptureConfig
	Upload  UploadConfig

	TelemetryChannel   string
	TelemetryRetention int64
}

// CaptureConfig tunes recording limits and platform detection.
type CaptureConfig struct {
	MaxSeconds           int
	MinSeconds           float64
	MinFileBytes         int64
	Encodings            []string
	DecodeProbePlatforms []string
	FinalizeTimeout      time.Duration
	MaxUploadBytes       int64
}

// UploadConfig is the retry policy for recording uploads.
type UploadConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	StorageDriverHTTP       = "http"
	StorageDriverCloudinary = "cloudinary"
)

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Speaking Lab")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("storage.driver", StorageDriverHTTP)
	v.SetDefault("storage.timeout", "30s")
	v.SetDefault("cloudinary.folder", "gema/practice")
	v.SetDefault("scoring.timeout", "20s")
	v.SetDefault("capture.max_seconds", 45)
	v.SetDefault("capture.min_seconds", 1.0)
	v.SetDefault("capture.min_file_bytes", 1024)
	v.SetDefault("capture.encodings", "audio/webm;codecs=opus,audio/webm,audio/ogg;codecs=opus,audio/mp4,audio/wav")
	v.SetDefault("capture.decode_probe_platforms", "ios-safari,ios-chrome,ios-firefox,desktop-safari")
	v.SetDefault("capture.finalize_timeout", "5s")
	v.SetDefault("capture.max_upload_bytes", 10<<20)
	v.SetDefault("upload.max_attempts", 3)
	v.SetDefault("upload.initial_backoff", "500ms")
	v.SetDefault("upload.max_backoff", "4s")
	v.SetDefault("telemetry.channel", "gema:practice")
	v.SetDefault("telemetry.retention", 500)

	storageTimeout, err := duration(v, "storage.timeout")
	if err != nil {
		return Config{}, err
	}
	scoringTimeout, err := duration(v, "scoring.timeout")
	if err != nil {
		return Config{}, err
	}
	finalizeTimeout, err := duration(v, "capture.finalize_timeout")
	if err != nil {
		return Config{}, err
	}
	initialBackoff, err := duration(v, "upload.initial_backoff")
	if err != nil {
		return Config{}, err
	}
	maxBackoff, err := duration(v, "upload.max_backoff")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseDriver:         strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		StorageDriver:          strings.ToLower(v.GetString("storage.driver")),
		StorageURL:             v.GetString("storage.url"),
		StorageToken:           v.GetString("storage.token"),
		StorageTimeout:         storageTimeout,
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		ScoringURL:             v.GetString("scoring.url"),
		ScoringToken:           v.GetString("scoring.token"),
		ScoringTimeout:         scoringTimeout,
		Capture: CaptureConfig{
			MaxSeconds:           v.GetInt("capture.max_seconds"),
			MinSeconds:           v.GetFloat64("capture.min_seconds"),
			MinFileBytes:         v.GetInt64("capture.min_file_bytes"),
			Encodings:            splitList(v.GetString("capture.encodings")),
			DecodeProbePlatforms: splitList(v.GetString("capture.decode_probe_platforms")),
			FinalizeTimeout:      finalizeTimeout,
			MaxUploadBytes:       v.GetInt64("capture.max_upload_bytes"),
		},
		Upload: UploadConfig{
			MaxAttempts:    v.GetInt("upload.max_attempts"),
			InitialBackoff: initialBackoff,
			MaxBackoff:     maxBackoff,
		},
		TelemetryChannel:   v.GetString("telemetry.channel"),
		TelemetryRetention: v.GetInt64("telemetry.retention"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.ScoringURL == "" {
		return Config{}, fmt.Errorf("scoring url must be provided")
	}

	switch cfg.StorageDriver {
	case StorageDriverHTTP:
		if cfg.StorageURL == "" {
			return Config{}, fmt.Errorf("storage url must be provided for the http storage driver")
		}
	case StorageDriverCloudinary:
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if cfg.Capture.MaxSeconds <= 0 {
		cfg.Capture.MaxSeconds = 45
	}
	if cfg.Capture.MinSeconds <= 0 || cfg.Capture.MinSeconds >= float64(cfg.Capture.MaxSeconds) {
		return Config{}, fmt.Errorf("capture min seconds must be between 0 and %d", cfg.Capture.MaxSeconds)
	}
	if cfg.Upload.MaxAttempts <= 0 {
		cfg.Upload.MaxAttempts = 3
	}

	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

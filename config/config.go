package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Meetings MeetingsConfig
	LiveKit  LiveKitConfig
	WebRTC   WebRTCConfig
	Call     CallConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins string // comma-separated, or "*" to reflect any origin
}

// RedisConfig holds Redis connection settings. An empty Addr runs without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the telemetry archive location.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	TelemetryBucket string // empty disables archiving
	TelemetryPrefix string
}

// MeetingsConfig selects the conferencing backend behind the bootstrap endpoint.
type MeetingsConfig struct {
	Provider      string // "sfu" (built-in relay) or "chime"
	DefaultRegion string
	SignalingURL  string // advertised to clients for the sfu provider
	RegistryTTL   time.Duration
}

// LiveKitConfig holds the key pair used to mint and verify join tokens.
type LiveKitConfig struct {
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// WebRTCConfig holds ICE servers and local capture settings.
type WebRTCConfig struct {
	ICEUrls      []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	Width        int
	Height       int
	FrameRate    int
	VideoBitrate int
	AudioBitrate int
}

// CallConfig configures the call client.
type CallConfig struct {
	BootstrapURL      string
	MetricsURL        string
	BootstrapTimeout  time.Duration
	SetupTimeout      time.Duration
	TelemetryInterval time.Duration
	AttentionInterval time.Duration
	Attentiveness     bool // enables Rekognition face analysis
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TelemetryBucket: getEnv("AWS_S3_TELEMETRY_BUCKET", ""),
			TelemetryPrefix: getEnv("AWS_S3_TELEMETRY_PREFIX", "telemetry"),
		},
		Meetings: MeetingsConfig{
			Provider:      strings.ToLower(getEnv("MEETING_PROVIDER", "sfu")),
			DefaultRegion: getEnv("MEETING_DEFAULT_REGION", "us-east-1"),
			SignalingURL:  getEnv("MEETING_SIGNALING_URL", "ws://localhost:"+port+"/ws"),
			RegistryTTL:   getEnvDuration("MEETING_REGISTRY_TTL", 24*time.Hour),
		},
		LiveKit: LiveKitConfig{
			APIKey:    getEnv("LIVEKIT_API_KEY", "devkey"),
			APISecret: getEnv("LIVEKIT_API_SECRET", "change-me-in-production-please"),
			TokenTTL:  getEnvDuration("LIVEKIT_TOKEN_TTL", 24*time.Hour),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:      splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			Width:        getEnvInt("VIDEO_WIDTH", 640),
			Height:       getEnvInt("VIDEO_HEIGHT", 480),
			FrameRate:    getEnvInt("VIDEO_FRAME_RATE", 30),
			VideoBitrate: getEnvInt("VIDEO_BITRATE", 800_000),
			AudioBitrate: getEnvInt("AUDIO_BITRATE", 64_000),
		},
		Call: CallConfig{
			BootstrapURL:      getEnv("CALL_BOOTSTRAP_URL", "http://localhost:"+port+"/meeting"),
			MetricsURL:        getEnv("CALL_METRICS_URL", "http://localhost:"+port+"/api/metrics"),
			BootstrapTimeout:  getEnvDuration("CALL_BOOTSTRAP_TIMEOUT", 15*time.Second),
			SetupTimeout:      getEnvDuration("CALL_SETUP_TIMEOUT", 30*time.Second),
			TelemetryInterval: getEnvDuration("CALL_TELEMETRY_INTERVAL", 5*time.Second),
			AttentionInterval: getEnvDuration("CALL_ATTENTION_INTERVAL", 2*time.Second),
			Attentiveness:     getEnvBool("CALL_ATTENTIVENESS", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// ConfigPathEnv overrides ConfigPath when set.
const ConfigPathEnv = "HUSTL_CONFIG"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTL          string `yaml:"sessionTTL"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`

	SignupRateLimitPerMinute  int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute   int `yaml:"loginRateLimitPerMinute"`
	MessageRateLimitPerMinute int `yaml:"messageRateLimitPerMinute"`

	CORSAllowedOrigins string `yaml:"corsAllowedOrigins"`
	TrustedProxies     string `yaml:"trustedProxies"`
	DefaultUniversity  string `yaml:"defaultUniversity"`
	MaxImageBytes      int64  `yaml:"maxImageBytes"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`
	UploadDir          string `yaml:"uploadDir"`
	UploadBaseURL      string `yaml:"uploadBaseURL"`

	AMQPURL        string `yaml:"amqpURL"`
	EventsExchange string `yaml:"eventsExchange"`

	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

// ResolvePath picks the config file: explicit flag, then HUSTL_CONFIG,
// then ConfigPath.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(ConfigPathEnv)); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.SessionTTL, "SESSION_TTL")
	overrideString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	overrideString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	overrideString(&cfg.JWTKeyID, "JWT_KEY_ID")
	overrideString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	overrideString(&cfg.JWTIssuer, "JWT_ISSUER")
	overrideString(&cfg.JWTAudience, "JWT_AUDIENCE")
	overrideString(&cfg.JWTLeeway, "JWT_LEEWAY")
	overrideInt(&cfg.SignupRateLimitPerMinute, "SIGNUP_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.LoginRateLimitPerMinute, "LOGIN_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.MessageRateLimitPerMinute, "MESSAGE_RATE_LIMIT_PER_MINUTE")
	overrideString(&cfg.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")
	overrideString(&cfg.TrustedProxies, "TRUSTED_PROXIES")
	overrideString(&cfg.DefaultUniversity, "DEFAULT_UNIVERSITY")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	overrideString(&cfg.MinioPublicBaseURL, "MINIO_PUBLIC_BASE_URL")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	overrideString(&cfg.UploadDir, "UPLOAD_DIR")
	overrideString(&cfg.AMQPURL, "AMQP_URL")
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set JWT_PRIVATE_KEY_PATH)")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.MessageRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxImageBytes < 0 {
		return errors.New("config: maxImageBytes must be >= 0")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		if cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioBucket, minioAccessKey and minioSecretKey are required with minioEndpoint")
		}
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseShutdownTimeout(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseDuration("sessionTTL", ttlStr)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseDuration("jwtLeeway", leewayStr)
}

// ParseShutdownTimeout parses the graceful shutdown window, 10s by default.
func ParseShutdownTimeout(raw string) (time.Duration, error) {
	dur, err := parseDuration("shutdownTimeout", raw)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		dur = 10 * time.Second
	}
	return dur, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// SplitList parses a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config provides configuration loading and validation for the tour server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/tracing"
	"github.com/onnwee/panotour/internal/validate"
)

// Config holds all configuration values for the tour server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`
	// LogLevel overrides the environment default: info in production,
	// debug elsewhere.
	LogLevel string `koanf:"log_level"`

	// Database (optional outside production; scenes are kept in memory when unset)
	DatabaseURL string `koanf:"database_url"`

	// Redis backs rate limiting and token revocation when set.
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Admin account
	AdminEmail        string `koanf:"admin_email"`
	AdminPasswordHash string `koanf:"admin_password_hash"` // bcrypt

	// S3-compatible panorama storage
	S3BucketName      string `koanf:"s3_bucket_name"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3Region          string `koanf:"s3_region"`
	S3PublicBaseURL   string `koanf:"s3_public_base_url"`
	MediaMaxUploadMB  int    `koanf:"media_max_upload_size_mb"`
	// MediaBaseURL prefixes in-memory panorama URLs when S3 is not configured.
	MediaBaseURL string `koanf:"media_base_url"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otel_exporter_otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`

	// Map overlay bounds
	MapBounds geometry.MapBounds `koanf:"-"`

	// HTTP surface
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	ProfilingEnabled   bool     `koanf:"profiling_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required in production")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrShortJWTSecret           = errors.New("JWT_SECRET must be at least 32 characters")
	ErrIncompleteAdmin          = errors.New("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set together")
	ErrInvalidPasswordHash      = errors.New("ADMIN_PASSWORD_HASH must be a bcrypt hash")
	ErrInvalidAdminEmail        = errors.New("ADMIN_EMAIL is not a valid email address")
	ErrInvalidLogLevel          = errors.New("LOG_LEVEL must be debug, info, warn or error")
	ErrMissingS3BucketName      = errors.New("S3_BUCKET_NAME is required")
	ErrMissingS3AccessKeyID     = errors.New("S3_ACCESS_KEY_ID is required")
	ErrMissingS3SecretAccessKey = errors.New("S3_SECRET_ACCESS_KEY is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
	ErrInvalidNumber            = errors.New("value must be a valid number")
	ErrInvalidSampleRate        = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidExporter          = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrInvalidMapBounds         = errors.New("MAP_BOUNDS is invalid")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultMediaMaxUploadMB  = 20
	DefaultMediaBaseURL      = "http://localhost:8080/media"
	DefaultTracingExporter   = tracing.ExporterOTLPHTTP
	DefaultTracingSampleRate = 0.1
	minJWTSecretLength       = 32
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	port, err := getEnvIntOrDefaultMulti([]string{"PANOTOUR_PORT", "PORT"}, k.Int("port"), DefaultPort)
	collect(err)
	maxUpload, err := getEnvIntOrDefault("MEDIA_MAX_UPLOAD_SIZE_MB", k.Int("media_max_upload_size_mb"), DefaultMediaMaxUploadMB)
	collect(err)
	sampleRate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	collect(err)

	bounds := geometry.DefaultMapBounds
	if raw := getEnvOrKoanf("MAP_BOUNDS", k, "map_bounds"); raw != "" {
		b, err := geometry.ParseMapBounds(raw)
		if err != nil {
			collect(fmt.Errorf("%w: %v", ErrInvalidMapBounds, err))
		} else {
			bounds = b
		}
	}

	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"PANOTOUR_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		LogLevel:           getEnvOrKoanf("LOG_LEVEL", k, "log_level"),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:           getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:  getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		AdminEmail:         getEnvOrKoanf("ADMIN_EMAIL", k, "admin_email"),
		AdminPasswordHash:  getEnvOrKoanf("ADMIN_PASSWORD_HASH", k, "admin_password_hash"),
		S3BucketName:       getEnvOrKoanf("S3_BUCKET_NAME", k, "s3_bucket_name"),
		S3AccessKeyID:      getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey:  getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3Endpoint:         getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3Region:           getEnvOrKoanf("S3_REGION", k, "s3_region"),
		S3PublicBaseURL:    getEnvOrKoanf("S3_PUBLIC_BASE_URL", k, "s3_public_base_url"),
		MediaMaxUploadMB:   maxUpload,
		MediaBaseURL:       getEnvOrDefault("MEDIA_BASE_URL", k.String("media_base_url"), DefaultMediaBaseURL),
		TracingEnabled:     getEnvBool("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:    getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:       getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otel_exporter_otlp_endpoint"),
		TracingSampleRate:  sampleRate,
		TracingInsecure:    getEnvBool("TRACING_INSECURE", k, "tracing_insecure"),
		MapBounds:          bounds,
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		ProfilingEnabled:   getEnvBool("PROFILING_ENABLED", k, "profiling_enabled"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// S3Enabled reports whether panoramas are stored in a bucket.
func (c *Config) S3Enabled() bool {
	return c.S3BucketName != "" || c.S3AccessKeyID != "" || c.S3SecretAccessKey != ""
}

// MaxUploadBytes is the panorama upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MediaMaxUploadMB) << 20
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault reads a float. A file value of 0 is honored, since a
// zero sample rate is meaningful.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid float: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvBool reads a boolean flag; unrecognized env values leave the file value.
func getEnvBool(envKey string, k *koanf.Koanf, koanfKey string) bool {
	v := k.Bool(koanfKey)
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
	case "true", "1", "yes", "on":
		v = true
	case "false", "0", "no", "off":
		v = false
	}
	return v
}

// getEnvList reads a comma-separated env var or a YAML list.
func getEnvList(envKey string, k *koanf.Koanf, koanfKey string) []string {
	var raw []string
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	} else {
		raw = k.Strings(koanfKey)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" && c.IsProduction() {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	switch {
	case c.JWTSecret == "":
		errs = append(errs, ErrMissingJWTSecret)
	case len(c.JWTSecret) < minJWTSecretLength:
		errs = append(errs, ErrShortJWTSecret)
	}

	if (c.AdminEmail == "") != (c.AdminPasswordHash == "") {
		errs = append(errs, ErrIncompleteAdmin)
	} else if c.AdminEmail != "" {
		if _, err := validate.Email(c.AdminEmail); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidAdminEmail, err))
		}
		if !strings.HasPrefix(c.AdminPasswordHash, "$2") {
			errs = append(errs, ErrInvalidPasswordHash)
		}
	}

	// S3 configuration is optional. Only validate fields if any S3 value is set.
	if c.S3Enabled() {
		if c.S3BucketName == "" {
			errs = append(errs, ErrMissingS3BucketName)
		}
		if c.S3AccessKeyID == "" {
			errs = append(errs, ErrMissingS3AccessKeyID)
		}
		if c.S3SecretAccessKey == "" {
			errs = append(errs, ErrMissingS3SecretAccessKey)
		}
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel))
		}
	}
	if c.TracingExporter != tracing.ExporterOTLPHTTP && c.TracingExporter != tracing.ExporterOTLPGRPC {
		errs = append(errs, ErrInvalidExporter)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     strconv.Itoa(c.Port),
		"env":                      c.Env,
		"log_level":                c.LogLevel,
		"database_url":             maskDatabaseURL(c.DatabaseURL),
		"redis_url":                maskDatabaseURL(c.RedisURL),
		"jwt_secret":               maskSecret(c.JWTSecret),
		"jwt_previous_secret":      maskSecret(c.JWTPreviousSecret),
		"admin_email":              c.AdminEmail,
		"admin_password_hash":      maskSecret(c.AdminPasswordHash),
		"s3_bucket_name":           c.S3BucketName,
		"s3_access_key_id":         maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":     maskSecret(c.S3SecretAccessKey),
		"s3_endpoint":              c.S3Endpoint,
		"s3_public_base_url":       c.S3PublicBaseURL,
		"media_max_upload_size_mb": strconv.Itoa(c.MediaMaxUploadMB),
		"tracing_enabled":          strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":         c.TracingExporter,
		"tracing_sample_rate":      strconv.FormatFloat(c.TracingSampleRate, 'g', -1, 64),
		"map_bounds":               c.MapBounds.String(),
		"cors_allowed_origins":     strings.Join(c.CORSAllowedOrigins, ","),
		"profiling_enabled":        strconv.FormatBool(c.ProfilingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

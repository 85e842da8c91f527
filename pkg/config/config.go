package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Biometric provider modes.
const (
	BiometricsModeFake   = "fake"
	BiometricsModeRemote = "remote"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Biometrics BiometricsConfig
	Reports    ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig tunes the verification pipeline.
type AttendanceConfig struct {
	LateThreshold         time.Duration
	FaceConfidenceFloor   float64
	FaceHighSeverityBelow float64
	CodeMaxAttempts       int
	StrictSignCount       bool
	FailedAttemptLimit    int
	FailedAttemptWindow   time.Duration
	Timezone              string
}

// BiometricsConfig selects the face matcher implementation.
type BiometricsConfig struct {
	Mode               string
	FaceServiceURL     string
	FaceServiceTimeout time.Duration
	FakeFaceConfidence float64
}

// ReportsConfig governs summary caching.
type ReportsConfig struct {
	CacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Attendance = AttendanceConfig{
		LateThreshold:         parseDuration(v.GetString("ATTENDANCE_LATE_THRESHOLD"), 15*time.Minute),
		FaceConfidenceFloor:   v.GetFloat64("ATTENDANCE_FACE_CONFIDENCE_FLOOR"),
		FaceHighSeverityBelow: v.GetFloat64("ATTENDANCE_FACE_HIGH_SEVERITY_BELOW"),
		CodeMaxAttempts:       v.GetInt("ATTENDANCE_CODE_MAX_ATTEMPTS"),
		StrictSignCount:       v.GetBool("VERIFY_STRICT_SIGN_COUNT"),
		FailedAttemptLimit:    v.GetInt("ATTENDANCE_FAILED_ATTEMPT_LIMIT"),
		FailedAttemptWindow:   parseDuration(v.GetString("ATTENDANCE_FAILED_ATTEMPT_WINDOW"), 30*time.Minute),
		Timezone:              v.GetString("ATTENDANCE_TIMEZONE"),
	}

	cfg.Biometrics = BiometricsConfig{
		Mode:               strings.ToLower(v.GetString("BIOMETRICS_MODE")),
		FaceServiceURL:     v.GetString("FACE_SERVICE_URL"),
		FaceServiceTimeout: parseDuration(v.GetString("FACE_SERVICE_TIMEOUT"), 5*time.Second),
		FakeFaceConfidence: v.GetFloat64("FAKE_FACE_CONFIDENCE"),
	}

	cfg.Reports = ReportsConfig{
		CacheTTL: parseDuration(v.GetString("REPORTS_CACHE_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "smartattend")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_LATE_THRESHOLD", "15m")
	v.SetDefault("ATTENDANCE_FACE_CONFIDENCE_FLOOR", 70)
	v.SetDefault("ATTENDANCE_FACE_HIGH_SEVERITY_BELOW", 50)
	v.SetDefault("ATTENDANCE_CODE_MAX_ATTEMPTS", 10)
	v.SetDefault("VERIFY_STRICT_SIGN_COUNT", false)
	v.SetDefault("ATTENDANCE_FAILED_ATTEMPT_LIMIT", 3)
	v.SetDefault("ATTENDANCE_FAILED_ATTEMPT_WINDOW", "30m")
	v.SetDefault("ATTENDANCE_TIMEZONE", "Local")

	v.SetDefault("BIOMETRICS_MODE", BiometricsModeFake)
	v.SetDefault("FACE_SERVICE_URL", "http://localhost:9000")
	v.SetDefault("FACE_SERVICE_TIMEOUT", "5s")
	v.SetDefault("FAKE_FACE_CONFIDENCE", 90)

	v.SetDefault("REPORTS_CACHE_TTL", "2m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

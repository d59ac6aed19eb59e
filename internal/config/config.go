// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the call-core service configuration from a .env file
// and environment variables via viper, validating the result.
package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PostgresConfig describes the call-record/call-event database connection.
type PostgresConfig struct {
	Host              string `mapstructure:"host" validate:"required"`
	Port              int    `mapstructure:"port" validate:"required"`
	DBName            string `mapstructure:"db_name" validate:"required"`
	User              string `mapstructure:"user" validate:"required"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode" validate:"required"`
	MaxOpenConnection int    `mapstructure:"max_open_connection" validate:"required"`
	MaxIdleConnection int    `mapstructure:"max_ideal_connection" validate:"required"`
}

// RedisConfig describes the knowledge-base document cache connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// S3Config describes the session-log archive bucket.
type S3Config struct {
	Bucket string `mapstructure:"bucket" validate:"required"`
	Region string `mapstructure:"region" validate:"required"`
	Prefix string `mapstructure:"prefix"`
}

// RealtimeModelConfig describes the upstream speech-to-speech endpoint and
// the turn-detection defaults applied to every call's session.update.
type RealtimeModelConfig struct {
	Endpoint               string  `mapstructure:"endpoint" validate:"required"`
	BearerToken             string  `mapstructure:"bearer_token" validate:"required"`
	Voice                   string  `mapstructure:"voice" validate:"required"`
	TranscriptionModel      string  `mapstructure:"transcription_model" validate:"required"`
	VADThreshold            float64 `mapstructure:"vad_threshold" validate:"required"`
	VADPrefixPaddingMs      int     `mapstructure:"vad_prefix_padding_ms" validate:"required"`
	VADSilenceDurationMs    int     `mapstructure:"vad_silence_duration_ms" validate:"required"`
	StartSpeakingBufferMs   int     `mapstructure:"start_speaking_buffer_ms"`
}

// KnowledgeBaseConfig describes the document-query LLM collaborator.
type KnowledgeBaseConfig struct {
	Endpoint          string `mapstructure:"endpoint" validate:"required"`
	APIKey            string `mapstructure:"api_key" validate:"required"`
	Model             string `mapstructure:"model" validate:"required"`
	MaxGroupTokens    int    `mapstructure:"max_group_tokens" validate:"required"`
	CacheSize         int    `mapstructure:"cache_size" validate:"required"`
}

// TelephonyConfig describes the default provider credential resolution.
type TelephonyConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
}

// LoggingConfig controls the logger built by internal/logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AppConfig is the full call-core configuration tree.
type AppConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`

	Postgres      PostgresConfig      `mapstructure:"postgres" validate:"required"`
	Redis         RedisConfig         `mapstructure:"redis" validate:"required"`
	S3            S3Config            `mapstructure:"s3" validate:"required"`
	RealtimeModel RealtimeModelConfig `mapstructure:"realtime_model" validate:"required"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base" validate:"required"`
	Telephony     TelephonyConfig     `mapstructure:"telephony"`
	Logging       LoggingConfig       `mapstructure:"logging" validate:"required"`
}

// InitConfig reads .env and environment variables into a viper instance.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)

	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("callcore: reading config from environment variables only: %v", err)
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// keeping watch on https://github.com/spf13/viper/issues/188
	v.SetDefault("SERVICE_NAME", "callcore")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "callcore")
	v.SetDefault("POSTGRES__USER", "callcore")
	v.SetDefault("POSTGRES__PASSWORD", "")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)

	v.SetDefault("REDIS__ADDR", "localhost:6379")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("S3__PREFIX", "logs")

	v.SetDefault("REALTIME_MODEL__VOICE", "shimmer")
	v.SetDefault("REALTIME_MODEL__TRANSCRIPTION_MODEL", "whisper-1")
	v.SetDefault("REALTIME_MODEL__VAD_THRESHOLD", 0.5)
	v.SetDefault("REALTIME_MODEL__VAD_PREFIX_PADDING_MS", 300)
	v.SetDefault("REALTIME_MODEL__VAD_SILENCE_DURATION_MS", 500)

	v.SetDefault("KNOWLEDGE_BASE__MODEL", "gpt-4o-mini")
	v.SetDefault("KNOWLEDGE_BASE__MAX_GROUP_TOKENS", 30000)
	v.SetDefault("KNOWLEDGE_BASE__CACHE_SIZE", 10)

	v.SetDefault("LOGGING__LEVEL", "info")
}

// GetApplicationConfig unmarshals and validates the application config.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

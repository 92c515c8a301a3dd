// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ilog "github.com/sprucehealth/audiointerview/log"
)

const envPrefix = "INTERVIEW_"

func envLogger() zerolog.Logger {
	return ilog.WithComponent("config")
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// ParseString reads a string from the environment or returns the default.
func ParseString(key, defaultValue string) string {
	logger := envLogger()
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		ev.Str("value", value).Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from the environment, keeping the default on parse errors.
func ParseInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l := envLogger()
		l.Warn().Err(err).Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean from the environment, keeping the default on parse errors.
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l := envLogger()
		l.Warn().Err(err).Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment, using default")
		return defaultValue
	}
	return b
}

// ParseDuration reads a Go duration string from the environment.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l := envLogger()
		l.Warn().Err(err).Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment, using default")
		return defaultValue
	}
	return d
}

func mergeEnv(cfg *Config) {
	cfg.Server.ListenAddr = ParseString(envPrefix+"LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.PublicURL = ParseString(envPrefix+"PUBLIC_URL", cfg.Server.PublicURL)
	cfg.Server.ShutdownTimeout = ParseDuration(envPrefix+"SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Log.Level = ParseString(envPrefix+"LOG_LEVEL", cfg.Log.Level)

	cfg.Database.Path = ParseString(envPrefix+"DB_PATH", cfg.Database.Path)
	cfg.Database.BusyTimeout = ParseDuration(envPrefix+"DB_BUSY_TIMEOUT", cfg.Database.BusyTimeout)

	cfg.Redis.Addr = ParseString(envPrefix+"REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(envPrefix+"REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(envPrefix+"REDIS_DB", cfg.Redis.DB)

	cfg.Twilio.AccountSID = ParseString(envPrefix+"TWILIO_ACCOUNT_SID", cfg.Twilio.AccountSID)
	cfg.Twilio.AuthToken = ParseString(envPrefix+"TWILIO_AUTH_TOKEN", cfg.Twilio.AuthToken)
	cfg.Twilio.FromNumber = ParseString(envPrefix+"TWILIO_FROM_NUMBER", cfg.Twilio.FromNumber)
	cfg.Twilio.ValidateSignatures = ParseBool(envPrefix+"TWILIO_VALIDATE_SIGNATURES", cfg.Twilio.ValidateSignatures)
	cfg.Twilio.RecordCalls = ParseBool(envPrefix+"TWILIO_RECORD_CALLS", cfg.Twilio.RecordCalls)

	cfg.Interview.PracticeEnabled = ParseBool(envPrefix+"PRACTICE_ENABLED", cfg.Interview.PracticeEnabled)
	cfg.Interview.SelfRecord = ParseBool(envPrefix+"SELF_RECORD", cfg.Interview.SelfRecord)
	cfg.Interview.SkipOutro = ParseBool(envPrefix+"SKIP_OUTRO", cfg.Interview.SkipOutro)
	cfg.Interview.PINTTL = ParseDuration(envPrefix+"PIN_TTL", cfg.Interview.PINTTL)
}

// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package config loads service configuration from defaults, an optional YAML
// file, and INTERVIEW_* environment variables, in increasing precedence.
package config

import (
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Log       LogConfig            `yaml:"log"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Twilio    TwilioConfig         `yaml:"twilio"`
	Interview InterviewConfig      `yaml:"interview"`
	Audio     AudioPack            `yaml:"audio"`
	Locales   map[string]AudioPack `yaml:"locales"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	PublicURL       string        `yaml:"public_url"` // externally reachable base used in callback URLs
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TwilioConfig struct {
	AccountSID         string `yaml:"account_sid"`
	AuthToken          string `yaml:"auth_token"`
	FromNumber         string `yaml:"from_number"`
	ValidateSignatures bool   `yaml:"validate_signatures"`
	RecordCalls        bool   `yaml:"record_calls"`
}

// InterviewConfig holds service-wide toggles that are combined with each
// step definition when a callback is resolved.
type InterviewConfig struct {
	PracticeEnabled    bool          `yaml:"practice_enabled"`
	SelfRecord         bool          `yaml:"self_record"`
	SkipOutro          bool          `yaml:"skip_outro"`
	PINLength          int           `yaml:"pin_length"`
	PINTTL             time.Duration `yaml:"pin_ttl"`
	PINAttempts        int           `yaml:"pin_attempts"`
	NotifyQueueSize    int           `yaml:"notify_queue_size"`
	ConnectRateLimit   int           `yaml:"connect_rate_limit"` // requests per minute per IP
	VerifyPINRateLimit int           `yaml:"verify_pin_rate_limit"`
}

// AudioPack names the audio played around the candidate's own prompts.
type AudioPack struct {
	Intro             string `yaml:"intro"`
	Outro             string `yaml:"outro"`
	Verify            string `yaml:"verify"`
	Reconnect         string `yaml:"reconnect"`
	NoActivity        string `yaml:"no_activity"`
	NoActivityEndCall string `yaml:"no_activity_end_call"`
	Error             string `yaml:"error"`
	PracticePrompt    string `yaml:"practice_prompt"`
	PracticePlayback  string `yaml:"practice_playback"`
	StartRecord       string `yaml:"start_record"`
	EnterPIN          string `yaml:"enter_pin"`
	InvalidPIN        string `yaml:"invalid_pin"`
	Beep              string `yaml:"beep"`
	Chime             string `yaml:"chime"`
}

// Merge returns p with empty entries filled from fallback.
func (p AudioPack) Merge(fallback AudioPack) AudioPack {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	return AudioPack{
		Intro:             pick(p.Intro, fallback.Intro),
		Outro:             pick(p.Outro, fallback.Outro),
		Verify:            pick(p.Verify, fallback.Verify),
		Reconnect:         pick(p.Reconnect, fallback.Reconnect),
		NoActivity:        pick(p.NoActivity, fallback.NoActivity),
		NoActivityEndCall: pick(p.NoActivityEndCall, fallback.NoActivityEndCall),
		Error:             pick(p.Error, fallback.Error),
		PracticePrompt:    pick(p.PracticePrompt, fallback.PracticePrompt),
		PracticePlayback:  pick(p.PracticePlayback, fallback.PracticePlayback),
		StartRecord:       pick(p.StartRecord, fallback.StartRecord),
		EnterPIN:          pick(p.EnterPIN, fallback.EnterPIN),
		InvalidPIN:        pick(p.InvalidPIN, fallback.InvalidPIN),
		Beep:              pick(p.Beep, fallback.Beep),
		Chime:             pick(p.Chime, fallback.Chime),
	}
}

const (
	defaultAudioBase = "https://d111a4irec6an5.cloudfront.net/audio_interview/application_sounds/"
	defaultBeepURL   = "https://d111a4irec6an5.cloudfront.net/-1592344130753-beep.mp3"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			PublicURL:       "http://localhost:8080",
			ShutdownTimeout: 15 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
		},
		Log: LogConfig{Level: "info", Service: "interviewd"},
		Database: DatabaseConfig{
			Path:         "interviews.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Twilio: TwilioConfig{
			ValidateSignatures: true,
		},
		Interview: InterviewConfig{
			PracticeEnabled:    true,
			PINLength:          6,
			PINTTL:             30 * time.Minute,
			PINAttempts:        3,
			NotifyQueueSize:    256,
			ConnectRateLimit:   20,
			VerifyPINRateLimit: 10,
		},
		Audio: AudioPack{
			Intro:             defaultAudioBase + "en-US/intro.mp3",
			Outro:             defaultAudioBase + "en-US/outro.mp3",
			Verify:            defaultAudioBase + "en-US/verify.mp3",
			Reconnect:         defaultAudioBase + "en-US/reconnect.mp3",
			NoActivity:        defaultAudioBase + "en-US/no_activity.mp3",
			NoActivityEndCall: defaultAudioBase + "en-US/no_activity_end_call.mp3",
			Error:             defaultAudioBase + "en-US/error.mp3",
			PracticePrompt:    defaultAudioBase + "en-US/practice_prompt.mp3",
			PracticePlayback:  defaultAudioBase + "en-US/practice_playback.mp3",
			StartRecord:       defaultAudioBase + "en-US/start_record.mp3",
			EnterPIN:          defaultAudioBase + "en-US/enter_pin.mp3",
			InvalidPIN:        defaultAudioBase + "en-US/invalid_pin.mp3",
			Beep:              defaultBeepURL,
			Chime:             defaultAudioBase + "beep.mp3",
		},
	}
}

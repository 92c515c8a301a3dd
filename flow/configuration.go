// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

import (
	"context"

	"github.com/sprucehealth/audiointerview/config"
	"github.com/sprucehealth/audiointerview/model"
)

// Configuration is everything about a callback that depends on toggles or
// locale rather than persisted state. It is resolved once per request.
type Configuration struct {
	PracticeEnabled bool
	SelfRecord      bool
	SkipOutro       bool
	RedoLimit       int
	Audio           config.AudioPack
	IntroURL        string
	OutroURL        string
}

// ConfigResolver produces the Configuration for a step.
type ConfigResolver interface {
	Resolve(ctx context.Context, step model.Step) (Configuration, error)
	// Fallback is used when the step itself cannot be loaded, e.g. to render
	// the error document.
	Fallback() Configuration
}

// StaticResolver resolves configuration from service config and the step definition.
type StaticResolver struct {
	cfg config.Config
}

func NewStaticResolver(cfg config.Config) *StaticResolver {
	return &StaticResolver{cfg: cfg}
}

func (r *StaticResolver) Resolve(_ context.Context, step model.Step) (Configuration, error) {
	pack := r.cfg.AudioPackFor(step.Locale())
	c := Configuration{
		PracticeEnabled: r.cfg.Interview.PracticeEnabled && step.PlayPracticePrompt,
		SelfRecord:      r.cfg.Interview.SelfRecord,
		SkipOutro:       r.cfg.Interview.SkipOutro || step.SkipOutro,
		RedoLimit:       step.RedoLimit,
		Audio:           pack,
		IntroURL:        pack.Intro,
		OutroURL:        pack.Outro,
	}
	if step.CustomIntroURL != "" {
		c.IntroURL = step.CustomIntroURL
	}
	if step.CustomOutroURL != "" {
		c.OutroURL = step.CustomOutroURL
	}
	return c, nil
}

func (r *StaticResolver) Fallback() Configuration {
	return Configuration{Audio: r.cfg.Audio, IntroURL: r.cfg.Audio.Intro, OutroURL: r.cfg.Audio.Outro}
}

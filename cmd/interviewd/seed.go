// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/store"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Steps []struct {
		model.Step `yaml:",inline"`
		Prompts    []model.AudioPrompt `yaml:"prompts"`
	} `yaml:"steps"`
	Progressions []struct {
		ID        string `yaml:"id"`
		StepID    string `yaml:"step_id"`
		AttemptID string `yaml:"attempt_id"`
	} `yaml:"progressions"`
}

func parseSeed(data []byte) (*seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	steps := map[string]bool{}
	for _, s := range f.Steps {
		if s.ID == "" {
			return nil, errors.New("step without id")
		}
		steps[s.ID] = true
		for _, p := range s.Prompts {
			if p.ID == "" {
				return nil, fmt.Errorf("step %s: prompt without id", s.ID)
			}
		}
	}
	for _, p := range f.Progressions {
		if p.ID == "" {
			return nil, errors.New("progression without id")
		}
		if !steps[p.StepID] {
			return nil, fmt.Errorf("progression %s: unknown step %q", p.ID, p.StepID)
		}
	}
	return &f, nil
}

type seedResult struct {
	Steps, Prompts, Created, Reset, Existing int
}

// applySeed upserts steps and prompts. Progressions that already exist are
// left alone unless reset is set, in which case they start over.
func applySeed(ctx context.Context, st *store.SQLite, f *seedFile, reset bool) (seedResult, error) {
	var res seedResult
	for _, s := range f.Steps {
		if err := st.PutStep(ctx, s.Step); err != nil {
			return res, err
		}
		res.Steps++
		for _, p := range s.Prompts {
			p.StepID = s.ID
			if err := st.PutPrompt(ctx, p); err != nil {
				return res, err
			}
			res.Prompts++
		}
	}
	for _, p := range f.Progressions {
		_, err := st.GetProgression(ctx, p.ID)
		switch {
		case err == nil && !reset:
			res.Existing++
			continue
		case err == nil:
			if err := st.DeleteProgression(ctx, p.ID); err != nil {
				return res, err
			}
			res.Reset++
		case errors.Is(err, store.ErrNotFound):
			res.Created++
		default:
			return res, err
		}
		if err := st.CreateProgression(ctx, model.StepProgression{ID: p.ID, StepID: p.StepID, AttemptID: p.AttemptID}); err != nil {
			return res, err
		}
	}
	return res, nil
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load steps, prompts and step progressions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := parseSeed(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			st, err := store.OpenSQLite(cmd.Context(), root.cfg.Database.Path, storeConfig(root.cfg))
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := applySeed(cmd.Context(), st, f, reset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "steps=%d prompts=%d progressions created=%d reset=%d unchanged=%d\n",
				res.Steps, res.Prompts, res.Created, res.Reset, res.Existing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "restart progressions that already exist")
	return cmd
}

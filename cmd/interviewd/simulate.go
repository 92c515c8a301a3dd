// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sprucehealth/audiointerview/clock"
	"github.com/sprucehealth/audiointerview/config"
	"github.com/sprucehealth/audiointerview/flow"
	"github.com/sprucehealth/audiointerview/httpapi"
	"github.com/sprucehealth/audiointerview/httpstub"
	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/simulator"
	"github.com/sprucehealth/audiointerview/store"
	"github.com/sprucehealth/audiointerview/telephony"
)

type simulateOptions struct {
	seedPath    string
	progression string
	phone       string
	script      string
	consoleAddr string
}

// simulationReport is printed after a simulated call ends.
type simulationReport struct {
	Call          *simulator.Call        `json:"call"`
	Progression   *model.StepProgression `json:"step_progression"`
	Interview     *model.AudioInterview  `json:"audio_interview"`
	Recordings    []model.AudioRecording `json:"recordings"`
	Notifications []notify.Recorded      `json:"notifications"`
}

// parseScript reads caller inputs separated by commas:
//
//	1, #, *          press keys
//	silence          let a digit or record wait time out
//	speak:20s[:KEY]  answer a record verb, optionally ending it with KEY
//	hangup           hang up
func parseScript(s string) ([]simulator.Input, error) {
	var inputs []simulator.Input
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
		case tok == "silence":
			inputs = append(inputs, simulator.Silence())
		case tok == "hangup":
			inputs = append(inputs, simulator.HangUp())
		case strings.HasPrefix(tok, "speak:"):
			parts := strings.SplitN(strings.TrimPrefix(tok, "speak:"), ":", 2)
			d, err := time.ParseDuration(parts[0])
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("bad speak duration in %q", tok)
			}
			key := ""
			if len(parts) == 2 {
				key = parts[1]
			}
			inputs = append(inputs, simulator.Speak(d, key))
		case strings.Trim(tok, "0123456789*#") == "":
			inputs = append(inputs, simulator.Press(tok))
		default:
			return nil, fmt.Errorf("unknown script input %q", tok)
		}
	}
	return inputs, nil
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one interview call end to end against a simulated provider",
		Long: `simulate seeds a throwaway database, serves the call flow on a local port and
places a call through the provider simulator. The caller follows --script; the
call timeline, attempt state and lifecycle events are printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.Context(), root.cfg, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.seedPath, "seed", "", "YAML seed file with steps, prompts and progressions (required)")
	cmd.Flags().StringVar(&opts.progression, "progression", "", "step progression to call for (required)")
	cmd.Flags().StringVar(&opts.phone, "phone", "+15555550100", "candidate phone number")
	cmd.Flags().StringVar(&opts.script, "script", "1,1", "caller inputs, e.g. 1,1,speak:20s:#")
	cmd.Flags().StringVar(&opts.consoleAddr, "console", "", "keep serving the simulator console on this address after the call")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("progression")
	return cmd
}

func simulate(ctx context.Context, cfg config.Config, opts *simulateOptions, out io.Writer) error {
	script, err := parseScript(opts.script)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(opts.seedPath)
	if err != nil {
		return err
	}
	seed, err := parseSeed(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", opts.seedPath, err)
	}

	dir, err := os.MkdirTemp("", "interviewd-simulate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	st, err := store.OpenSQLite(ctx, filepath.Join(dir, "simulate.db"), storeConfig(cfg))
	if err != nil {
		return err
	}
	defer st.Close()
	if _, err := applySeed(ctx, st, seed, false); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	publicURL := "http://" + ln.Addr().String()
	token := uuid.NewString()

	sim := simulator.New(
		simulator.WithClock(clock.NewManualClock(time.Now().UTC())),
		simulator.WithWebhookClient(httpstub.NewDefaultWebhookClient(10*time.Second, httpstub.WithSigningToken(token))),
	)
	from := cfg.Twilio.FromNumber
	if from == "" {
		from = "+15550000000"
	}
	recorder := notify.NewRecorder()
	dispatcher := notify.NewDispatcher(recorder, cfg.Interview.NotifyQueueSize)
	ctl := flow.NewController(st, flow.NewRoutes(publicURL), flow.NewStaticResolver(cfg),
		flow.WithNotifier(dispatcher),
		flow.WithProvider(telephony.NewTwilioWithAPI(sim), from, cfg.Twilio.RecordCalls),
		flow.WithLogger(ilog.WithComponent("flow")),
	)
	srv := &http.Server{
		Handler: httpapi.NewServer(ctl, httpapi.Options{
			PublicURL:          publicURL,
			AuthToken:          token,
			ValidateSignatures: true,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	res, err := ctl.Connect(ctx, flow.ConnectRequest{StepProgressionID: opts.progression, Phone: opts.phone})
	if err != nil {
		dispatcher.Close()
		return err
	}
	if res.Completed {
		dispatcher.Close()
		return fmt.Errorf("step progression %s is already complete", opts.progression)
	}
	call, runErr := sim.Answer(ctx, res.CallSID, script...)
	dispatcher.Close()

	report := simulationReport{Call: call, Notifications: recorder.All()}
	if report.Progression, err = st.GetProgression(ctx, opts.progression); err != nil {
		return err
	}
	if report.Interview, err = st.GetInterview(ctx, opts.progression); err != nil {
		return err
	}
	if report.Recordings, err = st.ListRecordings(ctx, opts.progression, true); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("simulated call: %w", runErr)
	}

	if opts.consoleAddr == "" {
		return nil
	}
	return serveConsole(ctx, opts.consoleAddr, sim)
}

func serveConsole(ctx context.Context, addr string, sim *simulator.Simulator) error {
	console := &http.Server{
		Addr:              addr,
		Handler:           simulator.ConsoleHandler(sim),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger := ilog.WithComponent("console")
		logger.Info().Str("addr", addr).Msg("simulator console listening")
		if err := console.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return console.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

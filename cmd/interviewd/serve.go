// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sprucehealth/audiointerview/config"
	"github.com/sprucehealth/audiointerview/flow"
	"github.com/sprucehealth/audiointerview/httpapi"
	ilog "github.com/sprucehealth/audiointerview/log"
	"github.com/sprucehealth/audiointerview/model"
	"github.com/sprucehealth/audiointerview/notify"
	"github.com/sprucehealth/audiointerview/pin"
	"github.com/sprucehealth/audiointerview/store"
	"github.com/sprucehealth/audiointerview/telephony"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve provider webhooks and the candidate API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), root.cfg)
		},
	}
}

func storeConfig(cfg config.Config) store.Config {
	return store.Config{BusyTimeout: cfg.Database.BusyTimeout, MaxOpenConns: cfg.Database.MaxOpenConns}
}

func redisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := ilog.WithComponent("serve")

	st, err := store.OpenSQLite(ctx, cfg.Database.Path, storeConfig(cfg))
	if err != nil {
		return err
	}
	defer st.Close()

	rc := redisClient(cfg)
	defer rc.Close()
	if err := rc.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	dispatcher := notify.NewDispatcher(notify.NewRedisPublisher(rc), cfg.Interview.NotifyQueueSize,
		notify.WithLogger(ilog.WithComponent("notify")))
	defer dispatcher.Close()

	completions := ilog.WithComponent("completion")
	ctl := flow.NewController(st, flow.NewRoutes(cfg.Server.PublicURL), flow.NewStaticResolver(cfg),
		flow.WithNotifier(dispatcher),
		flow.WithProvider(telephony.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken), cfg.Twilio.FromNumber, cfg.Twilio.RecordCalls),
		flow.WithPINRegistry(pin.NewRedisRegistry(rc, cfg.Interview.PINLength, cfg.Interview.PINTTL), cfg.Interview.PINAttempts),
		flow.WithLogger(ilog.WithComponent("flow")),
		flow.WithCompleter(flow.CompleterFunc(func(ctx context.Context, p model.StepProgression) error {
			completions.Info().
				Str(ilog.FieldStepProgressionID, p.ID).
				Str("attempt_id", p.AttemptID).
				Msg("step progression completed")
			return nil
		})),
	)

	api := httpapi.NewServer(ctl, httpapi.Options{
		PublicURL:          cfg.Server.PublicURL,
		AuthToken:          cfg.Twilio.AuthToken,
		ValidateSignatures: cfg.Twilio.ValidateSignatures,
		ConnectRateLimit:   cfg.Interview.ConnectRateLimit,
		VerifyPINRateLimit: cfg.Interview.VerifyPINRateLimit,
		HealthCheck: func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return err
			}
			return rc.Ping(ctx).Err()
		},
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("public_url", cfg.Server.PublicURL).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

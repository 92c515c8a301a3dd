// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package pin maps short numeric codes to interview attempts so a candidate
// can identify themselves by keypad when calling in. A PIN resolves to
// exactly one attempt and an attempt holds at most one PIN at a time.
package pin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("pin not found")
	// ErrExhausted means no unused PIN could be found after several draws.
	ErrExhausted = errors.New("pin space exhausted")
)

// Registry generates, resolves and invalidates call-in PINs.
type Registry interface {
	Generate(ctx context.Context, progressionID string) (string, error)
	Resolve(ctx context.Context, pin string) (string, error)
	Invalidate(ctx context.Context, pin string) error
}

const (
	pinKeyPrefix   = "audio_interview:pin:"
	ownerKeyPrefix = "audio_interview:pin_for:"
	maxDraws       = 16
)

func pinKey(pin string) string             { return pinKeyPrefix + pin }
func ownerKey(progressionID string) string { return ownerKeyPrefix + progressionID }

// RedisRegistry stores PINs as expiring keys in both directions.
type RedisRegistry struct {
	client redis.UniversalClient
	length int
	ttl    time.Duration
}

func NewRedisRegistry(client redis.UniversalClient, length int, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, length: length, ttl: ttl}
}

// Generate issues a fresh PIN for the attempt, revoking any PIN it held before.
func (r *RedisRegistry) Generate(ctx context.Context, progressionID string) (string, error) {
	if progressionID == "" {
		return "", errors.New("pin: empty step progression id")
	}
	if old, err := r.client.Get(ctx, ownerKey(progressionID)).Result(); err == nil {
		if err := r.release(ctx, old, progressionID); err != nil {
			return "", err
		}
	} else if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("pin: lookup %s: %w", progressionID, err)
	}

	for i := 0; i < maxDraws; i++ {
		p, err := randomDigits(r.length)
		if err != nil {
			return "", err
		}
		ok, err := r.client.SetNX(ctx, pinKey(p), progressionID, r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("pin: reserve: %w", err)
		}
		if !ok {
			continue
		}
		if err := r.client.Set(ctx, ownerKey(progressionID), p, r.ttl).Err(); err != nil {
			_ = r.client.Del(ctx, pinKey(p)).Err()
			return "", fmt.Errorf("pin: record owner: %w", err)
		}
		return p, nil
	}
	return "", ErrExhausted
}

// Resolve returns the attempt a PIN belongs to.
func (r *RedisRegistry) Resolve(ctx context.Context, pin string) (string, error) {
	if pin == "" {
		return "", ErrNotFound
	}
	id, err := r.client.Get(ctx, pinKey(pin)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pin: resolve: %w", err)
	}
	return id, nil
}

// Invalidate revokes a PIN. Unknown PINs are ignored.
func (r *RedisRegistry) Invalidate(ctx context.Context, pin string) error {
	id, err := r.Resolve(ctx, pin)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.release(ctx, pin, id)
}

func (r *RedisRegistry) release(ctx context.Context, pin, progressionID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pinKey(pin))
		pipe.Del(ctx, ownerKey(progressionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("pin: release %s: %w", progressionID, err)
	}
	return nil
}

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("pin: random: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

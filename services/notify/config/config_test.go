// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8087", cfg.Server.Addr)
	assert.Equal(t, 10_000, cfg.Caches.Poll.Max)
	assert.Equal(t, 100, cfg.Caches.PollResult.Max)
	assert.Equal(t, 30*time.Second, cfg.PollResultTTL())
	assert.Nil(t, cfg.Push.HMACKey)
	assert.Equal(t, 10, cfg.Scheduler.MarkLimit)
	assert.Equal(t, 5*time.Second, cfg.SchedulerLockTTL())
	assert.Equal(t, time.Second, cfg.SchedulerBaseline())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	content := `
server:
  addr: ":9000"
caches:
  pollResult:
    max: 500
    ttl: 10000
push:
  hmacKey:
    id: key-1
    secretKeyMultibase: uogH0000000000000000000000000000000000000000000
scheduler:
  markLimit: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 500, cfg.Caches.PollResult.Max)
	assert.Equal(t, 10*time.Second, cfg.PollResultTTL())
	require.NotNil(t, cfg.Push.HMACKey)
	assert.Equal(t, "key-1", cfg.Push.HMACKey.ID)
	assert.Equal(t, 25, cfg.Scheduler.MarkLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10_000, cfg.Caches.Poll.Max)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NOTIFY_SERVER_ADDR", ":7777")
	t.Setenv("NOTIFY_POLL_RESULT_TTL_MS", "5000")
	t.Setenv("NOTIFY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.PollResultTTL())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadValidation(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("NOTIFY_LOG_LEVEL", "verbose")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("hmac key requires both fields", func(t *testing.T) {
		t.Setenv("NOTIFY_PUSH_HMAC_KEY_ID", "key-1")
		_, err := Load("")
		assert.Error(t, err, "key id without secret must fail validation")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [notamap"), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type serverConfig struct {
	Address string
	Timeout time.Duration
	Limit   ByteSize
	Mode    string

	keyPrefix string
}

func (c *serverConfig) KeyPrefix() string {
	return c.keyPrefix
}

func (c *serverConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("address", "localhost:8080")
	dp.SetDefault("timeout", "5s")
	dp.SetDefault("mode", "fast")
}

func (c *serverConfig) Set(dp DataProvider) error {
	var err error
	if c.Address, err = dp.GetString("address"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	if c.Limit, err = dp.GetByteSize("limit"); err != nil {
		return err
	}
	if c.Mode, err = dp.GetStringFromSet("mode", []string{"fast", "safe"}, true); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return dp.WrapKeyErr("timeout", errors.New("cannot be negative"))
	}
	return nil
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := &serverConfig{}
		require.NoError(t, NewDefaultLoader("").LoadFromReader(bytes.NewBufferString("{}"), DataTypeJSON, cfg))
		require.Equal(t, "localhost:8080", cfg.Address)
		require.Equal(t, 5*time.Second, cfg.Timeout)
		require.Equal(t, ByteSize(0), cfg.Limit)
		require.Equal(t, "fast", cfg.Mode)
	})

	t.Run("several configs with key prefixes", func(t *testing.T) {
		yamlData := `
api:
  address: api.example.com:443
  limit: 1Mi
  mode: SAFE
admin:
  nested:
    timeout: 1m
`
		apiCfg := &serverConfig{keyPrefix: "api"}
		adminCfg := &serverConfig{keyPrefix: "admin.nested"}
		err := NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(yamlData), DataTypeYAML, apiCfg, adminCfg)
		require.NoError(t, err)

		require.Equal(t, "api.example.com:443", apiCfg.Address)
		require.Equal(t, ByteSize(1024*1024), apiCfg.Limit)
		require.Equal(t, "SAFE", apiCfg.Mode)
		require.Equal(t, 5*time.Second, apiCfg.Timeout)
		require.Equal(t, "localhost:8080", adminCfg.Address)
		require.Equal(t, time.Minute, adminCfg.Timeout)
	})

	t.Run("env vars", func(t *testing.T) {
		t.Setenv("CRPTTEST_API_ADDRESS", "env.example.com:80")
		cfg := &serverConfig{keyPrefix: "api"}
		err := NewDefaultLoader("crpttest").LoadFromReader(
			bytes.NewBufferString("api:\n  address: file.example.com:80"), DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, "env.example.com:80", cfg.Address)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name       string
			data       string
			wantErrMsg string
		}{
			{name: "bad duration", data: "api:\n  timeout: soon", wantErrMsg: "api.timeout: "},
			{name: "negative duration", data: "api:\n  timeout: -1s", wantErrMsg: "api.timeout: cannot be negative"},
			{name: "bad byte size", data: "api:\n  limit: lots", wantErrMsg: "api.limit: "},
			{name: "unknown mode", data: "api:\n  mode: slow", wantErrMsg: `api.mode: unknown value "slow"`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := NewDefaultLoader("").LoadFromReader(
					bytes.NewBufferString(tt.data), DataTypeYAML, &serverConfig{keyPrefix: "api"})
				require.ErrorContains(t, err, tt.wantErrMsg)
			})
		}
	})
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"address": "json.example.com:8443", "limit": 2048}`), 0o600))

	cfg := &serverConfig{}
	require.NoError(t, NewDefaultLoader("").LoadFromFile(path, DataTypeJSON, cfg))
	require.Equal(t, "json.example.com:8443", cfg.Address)
	require.Equal(t, ByteSize(2048), cfg.Limit)

	require.Error(t, NewDefaultLoader("").LoadFromFile(filepath.Join(t.TempDir(), "missing.json"), DataTypeJSON, cfg))
}

func TestKeyPrefixedDataProvider(t *testing.T) {
	va := NewViperAdapter()
	dp := NewKeyPrefixedDataProvider(va, "crpt")
	dp.Set("rateLimit.capacity", 10)
	dp.SetDefault("url", "https://example.com")

	require.True(t, va.IsSet("crpt.rateLimit.capacity"))
	require.True(t, dp.IsSet("rateLimit.capacity"))
	require.Equal(t, "https://example.com", va.Get("crpt.url"))

	nested := NewKeyPrefixedDataProvider(dp, "rateLimit")
	capacity, err := nested.GetInt("capacity")
	require.NoError(t, err)
	require.Equal(t, 10, capacity)
	require.EqualError(t, nested.WrapKeyErr("capacity", errors.New("must be positive")),
		"crpt.rateLimit.capacity: must be positive")

	require.Equal(t, dp, DataProviderFor(dp, struct{}{}))
	require.Equal(t, dp, DataProviderFor(dp, &serverConfig{}))
}

type appConfig struct {
	API     *serverConfig
	Admin   *serverConfig
	Skipped *serverConfig
	Name    string

	internal *serverConfig
}

func (c *appConfig) SetProviderDefaults(dp DataProvider) {
	CallSetProviderDefaultsForFields(c, dp)
}

func (c *appConfig) Set(dp DataProvider) error {
	return CallSetForFields(c, dp)
}

func TestCallSetForFields(t *testing.T) {
	cfg := &appConfig{
		API:      &serverConfig{keyPrefix: "api"},
		Admin:    &serverConfig{keyPrefix: "admin"},
		internal: &serverConfig{keyPrefix: "internal"},
	}
	yamlData := `
api:
  address: api.example.com:443
admin:
  mode: safe
internal:
  address: internal.example.com:80
`
	require.NoError(t, NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(yamlData), DataTypeYAML, cfg))
	require.Equal(t, "api.example.com:443", cfg.API.Address)
	require.Equal(t, "fast", cfg.API.Mode)
	require.Equal(t, "localhost:8080", cfg.Admin.Address)
	require.Equal(t, "safe", cfg.Admin.Mode)
	require.Nil(t, cfg.Skipped)
	require.Empty(t, cfg.internal.Address, "unexported fields are not loaded")

	err := NewDefaultLoader("").LoadFromReader(
		bytes.NewBufferString("admin:\n  mode: unknown"), DataTypeYAML, &appConfig{Admin: &serverConfig{keyPrefix: "admin"}})
	require.ErrorContains(t, err, "admin.mode: unknown value")
}

func TestViperAdapter_UnmarshalKey(t *testing.T) {
	type upstream struct {
		Host    string        `mapstructure:"host"`
		Timeout time.Duration `mapstructure:"timeout"`
		MaxBody ByteSize      `mapstructure:"maxBody"`
		Tags    []string      `mapstructure:"tags"`
	}
	yamlData := `
upstreams:
  - host: a.example.com
    timeout: 3s
    maxBody: 1M
    tags: primary,fast
  - host: b.example.com
    maxBody: 2048
`
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(yamlData), DataTypeYAML))

	var got []upstream
	require.NoError(t, va.UnmarshalKey("upstreams", &got))
	require.Equal(t, []upstream{
		{Host: "a.example.com", Timeout: 3 * time.Second, MaxBody: 1024 * 1024, Tags: []string{"primary", "fast"}},
		{Host: "b.example.com", MaxBody: 2048},
	}, got)

	t.Run("unused keys", func(t *testing.T) {
		va := NewViperAdapter()
		require.NoError(t, va.SetFromReader(bytes.NewBufferString("upstreams:\n  - host: a\n    port: 80"), DataTypeYAML))
		var got []upstream
		require.NoError(t, va.UnmarshalKey("upstreams", &got))
		err := va.UnmarshalKey("upstreams", &got, WithUnusedKeysCheck())
		require.ErrorContains(t, err, "upstreams: ")
		require.ErrorContains(t, err, "port")
	})

	t.Run("invalid byte size", func(t *testing.T) {
		va := NewViperAdapter()
		require.NoError(t, va.SetFromReader(bytes.NewBufferString("upstreams:\n  - maxBody: lots"), DataTypeYAML))
		var got []upstream
		require.ErrorContains(t, va.UnmarshalKey("upstreams", &got), "upstreams: ")
	})
}

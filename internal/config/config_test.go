package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const key32 = "0123456789abcdef0123456789abcdef"

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "passvault.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsNeedSigningKey(t *testing.T) {
	t.Parallel()

	_, err := Load(nil, env(nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), EnvSigningKey)

	cfg, err := Load(nil, env(map[string]string{EnvSigningKey: key32}))
	require.NoError(t, err)
	require.Equal(t, ":8443", cfg.Addr)
	require.Equal(t, 100_000, cfg.KDFIterations)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, StorePostgres, cfg.Store)
	require.NotEmpty(t, cfg.DSN)
}

func TestLoad_Precedence(t *testing.T) {
	t.Parallel()

	path := writeYAML(t, `
addr: ":9000"
dsn: "postgres://from-file"
signing_key: "file-key-file-key-file-key-file-key"
access_ttl: 5m
refresh_ttl: 1h
kdf_iterations: 200000
hash:
  time: 2
  memory_kib: 16384
  threads: 2
limiter:
  window: 1m
  max_fails: 3
  block_for: 2m
register_rate:
  window: 30m
  max: 4
insecure_listen: true
`)

	cfg, err := Load([]string{"-config", path, "-addr", ":7000", "-store", "memory"}, env(nil))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Addr, "flag beats file")
	require.Equal(t, "postgres://from-file", cfg.DSN)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
	require.Equal(t, 200_000, cfg.KDFIterations)
	require.Equal(t, 3, cfg.Limiter.MaxFails)
	require.Equal(t, RateConfig{Window: 30 * time.Minute, Max: 4}, cfg.RegisterRate)
	require.Equal(t, Default().OpsRate, cfg.OpsRate, "unset section keeps defaults")
	require.True(t, cfg.InsecureListen)
	require.Equal(t, "file-key-file-key-file-key-file-key", cfg.SigningKey)

	cfg, err = Load([]string{"-config", path}, env(map[string]string{EnvSigningKey: key32}))
	require.NoError(t, err)
	require.Equal(t, key32, cfg.SigningKey, "env beats file")

	hp := cfg.HashParams()
	require.Equal(t, uint32(2), hp.Time)
	require.Equal(t, uint32(16384), hp.Memory)
	require.Equal(t, uint8(2), hp.Threads)
	require.Equal(t, 16, hp.SaltLen)
	require.Equal(t, 200_000, cfg.KDFParams().Iterations)

	sc := cfg.Session()
	require.Equal(t, []byte(key32), sc.SigningKey)
	require.Equal(t, time.Hour, sc.RefreshTTL)
	require.Equal(t, "passvault", sc.Issuer)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()

	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, env(nil))
	require.ErrorContains(t, err, "read config file")

	_, err = Load([]string{"-config", writeYAML(t, "addr: [unterminated")}, env(nil))
	require.ErrorContains(t, err, "parse config file")

	_, err = Load([]string{"-no-such-flag"}, env(nil))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := Default()
	ok.SigningKey = key32
	require.NoError(t, ok.Validate())

	cases := map[string]func(c *Config){
		"short key":         func(c *Config) { c.SigningKey = "short" },
		"weak kdf":          func(c *Config) { c.KDFIterations = 9_999 },
		"zero access ttl":   func(c *Config) { c.AccessTTL = 0 },
		"access >= refresh": func(c *Config) { c.AccessTTL = c.RefreshTTL },
		"tiny hash memory":  func(c *Config) { c.Hash.MemoryKiB = 1024 },
		"limiter max fails": func(c *Config) { c.Limiter.MaxFails = 0 },
		"no register cap":   func(c *Config) { c.RegisterRate.Max = 0 },
		"zero ops window":   func(c *Config) { c.OpsRate.Window = 0 },
		"missing tls":       func(c *Config) { c.TLSCert = "" },
		"unknown log level": func(c *Config) { c.LogLevel = "trace" },
		"unknown store":     func(c *Config) { c.Store = "sqlite" },
		"postgres no dsn":   func(c *Config) { c.DSN = "" },
	}
	for name, mutate := range cases {
		c := ok
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}

	mem := ok
	mem.Store, mem.DSN = StoreMemory, ""
	require.NoError(t, mem.Validate())

	insecure := ok
	insecure.TLSCert, insecure.TLSKey, insecure.InsecureListen = "", "", true
	require.NoError(t, insecure.Validate())

	bad := Default()
	bad.KDFIterations = 1
	err := bad.Validate()
	require.Error(t, err)
	require.GreaterOrEqual(t, strings.Count(err.Error(), "\n"), 1, "all problems reported")
}

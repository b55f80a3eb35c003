package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchkit/pfetch/pkg/optname"
)

func TestLoadDefaults(t *testing.T) {
	defer viper.Reset()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, AddRootPersistentFlags(cmd))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, int64(500*humanize.MiByte), cfg.ChunkSize)
	assert.False(t, cfg.Overwrite)
	assert.False(t, cfg.VerifyTLS)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, "", cfg.CookieJarPath())
	assert.Empty(t, cfg.Headers)
}

func TestLoadOverrides(t *testing.T) {
	defer viper.Reset()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, AddRootPersistentFlags(cmd))

	viper.Set(optname.ChunkSize, "1MiB")
	viper.Set(optname.ConnTimeout, "2s")
	viper.Set(optname.Overwrite, true)
	viper.Set(optname.Retries, 0)
	viper.Set(optname.Header, []string{"Authorization: Bearer abc", "X-Trace:1"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(humanize.MiByte), cfg.ChunkSize)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.Overwrite)
	assert.Equal(t, 0, cfg.Retries)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc", "X-Trace": "1"}, cfg.Headers)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{"unparseable chunk size", optname.ChunkSize, "lots"},
		{"zero chunk size", optname.ChunkSize, "0"},
		{"negative retries", optname.Retries, -1},
		{"header without colon", optname.Header, []string{"Authorization"}},
		{"header without name", optname.Header, []string{": value"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			defer viper.Reset()
			viper.Set(optname.ChunkSize, DefaultChunkSize)
			viper.Set(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestCookieJarPath(t *testing.T) {
	testCases := []struct {
		name     string
		dir      string
		file     string
		expected string
	}{
		{"neither", "", "", ""},
		{"dir only", "/tmp/cookies", "", ""},
		{"file only", "", "jar.json", ""},
		{"both", "/tmp/cookies", "jar.json", filepath.Join("/tmp/cookies", "jar.json")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{CookieDir: tc.dir, CookieFile: tc.file}
			assert.Equal(t, tc.expected, cfg.CookieJarPath())
		})
	}
}

func TestEnvFile(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("PFETCH_RETRIES")
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, AddRootPersistentFlags(cmd))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PFETCH_RETRIES=7\n"), 0644))
	viper.Set(optname.EnvFile, envFile)

	require.NoError(t, PersistentStartupProcessFlags())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retries)
}

func TestEnvFileMissing(t *testing.T) {
	defer viper.Reset()
	viper.Set(optname.EnvFile, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, PersistentStartupProcessFlags())
}

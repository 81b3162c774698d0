package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/fleetcore/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bot_id: 42\nlisten: \":9000\"\nlog_level: warn\n"), 0o600))

	tests := []struct {
		name    string
		opts    options
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "file only",
			opts: options{configPath: path},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, uint64(42), cfg.BotID)
				assert.Equal(t, ":9000", cfg.Listen)
				assert.Equal(t, "warn", cfg.LogLevel)
			},
		},
		{
			name: "env overrides file",
			opts: options{configPath: path},
			env:  map[string]string{"FLEET_LISTEN": ":9100", "FLEET_BOT_ID": "7"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":9100", cfg.Listen)
				assert.Equal(t, uint64(7), cfg.BotID)
			},
		},
		{
			name: "flags override env",
			opts: options{configPath: path, listen: ":9200", logLevel: "debug"},
			env:  map[string]string{"FLEET_LISTEN": ":9100"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":9200", cfg.Listen)
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name: "env only",
			env:  map[string]string{"FLEET_BOT_ID": "5", "FLEET_TASK_TIMEOUT": "2s"},
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, uint64(5), cfg.BotID)
				assert.Equal(t, 2*time.Second, time.Duration(cfg.TaskTimeout))
			},
		},
		{name: "missing bot id", wantErr: true},
		{name: "missing file", opts: options{configPath: path + ".missing"}, wantErr: true},
		{name: "bad env", env: map[string]string{"FLEET_BOT_ID": "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadConfig(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger("chatty")
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "listen", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
}

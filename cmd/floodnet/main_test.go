package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-floodnet/config"
	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/pkg/types"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Cleanup(func() { logFileOverride = "" })

	cfg := config.NewConfig()
	cfg.Listen.Addrs = []string{"/ip4/127.0.0.1/tcp/1"}

	err := applyEnvOverrides(cfg, envMap(map[string]string{
		"FLOODNET_LISTEN_PORT":     "4001",
		"FLOODNET_BOOTSTRAP_PEERS": " /ip4/10.0.0.1/tcp/1 , ,/ip4/10.0.0.2/tcp/2",
		"FLOODNET_TOPIC":           "chat",
		"FLOODNET_LOG_FILE":        "logs/node.log",
	}))
	require.NoError(t, err)

	assert.Equal(t, 4001, cfg.Listen.Port)
	assert.Empty(t, cfg.Listen.Addrs)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/1", "/ip4/10.0.0.2/tcp/2"}, cfg.Discovery.BootstrapPeers)
	assert.Equal(t, "chat", cfg.PubSub.Topic)
	assert.Equal(t, "logs/node.log", logFileOverride)

	err = applyEnvOverrides(config.NewConfig(), envMap(map[string]string{"FLOODNET_LISTEN_PORT": "abc"}))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	t.Cleanup(func() {
		port = config.DefaultPort
		seedHex = ""
	})

	cfg := config.NewConfig()
	cfg.Listen.Port = 5000
	applyFlagOverrides(rootCmd, cfg)
	assert.Equal(t, 5000, cfg.Listen.Port, "未显式设置的参数不覆盖配置文件")

	require.NoError(t, rootCmd.Flags().Set("port", "6000"))
	t.Cleanup(func() { rootCmd.Flags().Lookup("port").Changed = false })
	seedHex = "01"
	applyFlagOverrides(rootCmd, cfg)
	assert.Equal(t, 6000, cfg.Listen.Port)
	assert.Equal(t, "01", cfg.Identity.Seed)
}

func TestIDCommand(t *testing.T) {
	t.Cleanup(func() { seedHex = "" })

	want, err := identity.FromHexSeed("2a")
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"id", "--seed", "2a", "--config", t.TempDir() + "/missing.yml"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, want.ID().String(), strings.TrimSpace(out.String()))
}

func TestFormatMessage(t *testing.T) {
	origin := types.RandomNodeID()
	env := types.NewEnvelope(origin, 1, "example-topic", []byte("hi"))
	assert.Equal(t, "[example-topic] "+origin.ShortString()+": hi", formatMessage(env))
}

func TestPublishLines(t *testing.T) {
	var got []string
	publish := func(_ context.Context, payload []byte) (*types.Envelope, error) {
		got = append(got, string(payload))
		return types.NewEnvelope(types.RandomNodeID(), uint64(len(got)), "t", payload), nil
	}

	t.Run("逐行发布", func(t *testing.T) {
		got = nil
		err := publishLines(context.Background(), strings.NewReader("a\n\nbb\n"), 16, publish)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "bb"}, got)
	})

	t.Run("超长行", func(t *testing.T) {
		got = nil
		in := "ok\n" + strings.Repeat("x", 32) + "\nlater\n"
		err := publishLines(context.Background(), strings.NewReader(in), 16, publish)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
		assert.Equal(t, []string{"ok"}, got)
	})

	t.Run("发布失败后继续", func(t *testing.T) {
		calls := 0
		failing := func(context.Context, []byte) (*types.Envelope, error) {
			calls++
			return nil, errors.New("boom")
		}
		err := publishLines(context.Background(), strings.NewReader("a\nb\n"), 16, failing)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

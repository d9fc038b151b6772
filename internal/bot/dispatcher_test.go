package bot

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/game"
	"github.com/roostbot/roost/internal/trigger"
)

// startDispatcher brings a supervised session up to Active with a writable
// profile directory, so commands that persist configuration succeed.
func startDispatcher(t *testing.T, cfg *config.ProfileCfg) (*Dispatcher, *fakeDialer, *fakeClient) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, cfg.ProfileName), 0o755))
	prev := config.BaseDir()
	config.SetBaseDir(dir)
	t.Cleanup(func() { config.SetBaseDir(prev) })

	dialer := &fakeDialer{}
	sup := startSupervisor(t, cfg, dialer)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(logger, sup, cfg, nil)

	client := waitForClient(t, dialer, 1)
	client.push(game.Ready{Username: cfg.Username})
	waitForStatus(t, sup, StatusActive)
	return d, dialer, client
}

func collect(replies *[]string) func(string) {
	return func(s string) { *replies = append(*replies, s) }
}

func TestDispatcherUnknownCommandPassthrough(t *testing.T) {
	d, _, client := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("console", "!gamemode creative", collect(&replies))

	require.Eventually(t, func() bool {
		cmds := client.commandLines()
		return len(cmds) == 1 && cmds[0] == "/gamemode creative"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, replies)
}

func TestDispatcherStatus(t *testing.T) {
	d, _, _ := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("console", "!status", collect(&replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "test: active @ localhost:25565 as roost")
}

func TestDispatcherAFKToggle(t *testing.T) {
	d, _, _ := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("console", "!afk off", collect(&replies))
	d.Handle("console", "!afk on", collect(&replies))
	d.Handle("console", "!afk maybe", collect(&replies))

	assert.Equal(t, []string{"AFK mode disabled.", "AFK mode enabled.", "Usage: afk on|off"}, replies)
}

func TestDispatcherSetIP(t *testing.T) {
	cfg := testProfile()
	d, dialer, _ := startDispatcher(t, cfg)

	var replies []string
	d.Handle("discord:op", "!setip play.example.net 25570", collect(&replies))

	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0], "play.example.net:25570")
	host, port := cfg.Target()
	assert.Equal(t, "play.example.net", host)
	assert.Equal(t, 25570, port)
	require.NotEmpty(t, cfg.AddressHistory)
	assert.Equal(t, "play.example.net", cfg.AddressHistory[0].Host)

	// The restart dials the new address.
	require.Eventually(t, func() bool { return dialer.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// The change must be on disk.
	data, err := os.ReadFile(filepath.Join(config.BaseDir(), "test", "profile.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "play.example.net")
}

func TestDispatcherSetIPRejectsBadPort(t *testing.T) {
	cfg := testProfile()
	d, _, _ := startDispatcher(t, cfg)

	var replies []string
	d.Handle("console", "!setip play.example.net 99999", collect(&replies))

	assert.Equal(t, []string{"Invalid port."}, replies)
	host, _ := cfg.Target()
	assert.Equal(t, "localhost", host)
}

func TestDispatcherTriggerCommands(t *testing.T) {
	cfg := testProfile()
	d, _, _ := startDispatcher(t, cfg)

	var replies []string
	d.Handle("console", "!trigger add hello there -> well hello there friend", collect(&replies))
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "hello there")
	require.Len(t, cfg.TriggerRules(), 1)
	assert.Equal(t, trigger.Rule{Trigger: "hello there", Reply: "well hello there friend"}, cfg.TriggerRules()[0])

	replies = nil
	d.Handle("console", "!trigger add HELLO THERE -> duplicate", collect(&replies))
	assert.Contains(t, replies[0], "already exists")
	assert.Len(t, cfg.TriggerRules(), 1)

	replies = nil
	d.Handle("console", "!trigger list", collect(&replies))
	assert.Contains(t, replies[0], `"hello there" -> "well hello there friend"`)

	replies = nil
	d.Handle("console", "!trigger remove hello there", collect(&replies))
	assert.Contains(t, replies[0], "Removed")
	assert.Empty(t, cfg.TriggerRules())

	replies = nil
	d.Handle("console", "!trigger list", collect(&replies))
	assert.Equal(t, []string{"No auto-replies set."}, replies)
}

func TestDispatcherUse(t *testing.T) {
	d, _, client := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("console", "!use 10 64 -3", collect(&replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Activated block at 10 64 -3")
	blocks := client.activatedBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, game.Position{X: 10, Y: 64, Z: -3}, blocks[0])

	replies = nil
	d.Handle("console", "!use 1 2", collect(&replies))
	assert.Equal(t, []string{"Usage: use <x> <y> <z>"}, replies)
}

// Trigger edits arrive from front ends while the supervisor matches incoming
// chat against the same rule set; both sides go through the profile accessors,
// so this holds up under the race detector.
func TestDispatcherTriggerEditsDuringChat(t *testing.T) {
	cfg := testProfile()
	d, _, client := startDispatcher(t, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			d.Handle("console", "!trigger add ping -> pong", func(string) {})
			d.Handle("console", "!trigger remove ping", func(string) {})
		}
	}()
	for i := 0; i < 25; i++ {
		client.push(game.Chat{Sender: "crowd", Text: "ping"})
	}
	<-done
}

func TestDispatcherHelp(t *testing.T) {
	d, _, _ := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("telegram:op", "!help", collect(&replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "setip")
	assert.Contains(t, replies[0], "trigger add")
}

func TestDispatcherWorksWithoutPrefix(t *testing.T) {
	d, _, _ := startDispatcher(t, testProfile())

	var replies []string
	d.Handle("console", "status", collect(&replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "active")
}

package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/touchfish-chat/internal/client"
	"github.com/omochice/touchfish-chat/internal/plugin"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

func newTestSession(t *testing.T) (*session, *syncBuffer) {
	t.Helper()
	reg, err := plugin.Open(plugin.Options{Root: filepath.Join(t.TempDir(), "plugins"), HostVersion: testVersion})
	require.NoError(t, err)

	c := client.New(client.Options{Username: "alice"})
	t.Cleanup(c.Close)

	host := newTerminalHost(c)
	gate := plugin.NewGate(reg, host, nil, nil)
	out := &syncBuffer{}
	return newSession(c, reg, gate, host, out, discardLogger), out
}

var discardLogger = slog.New(slog.DiscardHandler)

func installTheme(t *testing.T, reg *plugin.Registry, id, css string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(map[string]any{
		"id": id, "name": id, "version": "1.0.0", "type": "theme",
		"minAppVersion": "1.0", "style": "theme.css",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "theme.css"), []byte(css), 0o644))
	_, err = reg.Install(dir)
	require.NoError(t, err)
}

func TestSession_DeliversChatToPlugins(t *testing.T) {
	s, _ := newTestSession(t)
	src := writePluginFixture(t, "echo-bot", "1.0", "chat:receive", "ui:command")
	_, err := s.registry.Install(src)
	require.NoError(t, err)

	var got []plugin.ChatMessage
	api := s.gate.API("echo-bot")
	api.OnMessage(func(m plugin.ChatMessage) { got = append(got, m) })

	require.NoError(t, s.render(client.ChatReceived{Kind: protocol.ChatRegular, Text: "bob: hi there"}))
	require.NoError(t, s.render(client.ChatReceived{Kind: protocol.ChatSystem, Text: "carol joined"}))

	assert.Equal(t, []plugin.ChatMessage{
		{From: "bob", Content: "hi there"},
		{From: "system", Content: "carol joined"},
	}, got)
}

func TestSession_RunCommand(t *testing.T) {
	s, out := newTestSession(t)
	src := writePluginFixture(t, "dice", "1.0", "ui:command")
	_, err := s.registry.Install(src)
	require.NoError(t, err)

	var args []string
	s.gate.API("dice").RegisterCommand("roll", func(_ context.Context, a []string) error {
		args = a
		return nil
	})

	var g errgroup.Group
	ctx := context.Background()
	assert.False(t, s.handleLine(ctx, &g, "/run dice roll 2d6"))
	assert.Equal(t, []string{"2d6"}, args)

	s.handleLine(ctx, &g, "/commands")
	assert.Contains(t, out.String(), "dice roll\n")

	s.handleLine(ctx, &g, "/run dice fly")
	assert.Contains(t, out.String(), `no command "fly" registered by dice`)

	assert.True(t, s.handleLine(ctx, &g, "/quit"))
	assert.True(t, s.handleLine(ctx, &g, "exit"))
	require.NoError(t, g.Wait())
}

func TestSession_ThemeFollowsLifecycle(t *testing.T) {
	s, _ := newTestSession(t)
	installTheme(t, s.registry, "neon", ":root { --name-color: 201; }")

	sub := s.registry.Subscribe(0)
	defer sub.Cancel()

	// The session is created before the install, so replay the events.
	apply := func() {
		for {
			select {
			case ev := <-sub.C():
				s.pluginChanged(ev)
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}

	require.NoError(t, s.registry.Disable("neon"))
	apply()
	assert.Empty(t, s.host.overrides())

	require.NoError(t, s.registry.Enable("neon"))
	apply()
	assert.Equal(t, map[string]string{varNameColor: "201"}, s.host.overrides())
}

func TestSession_AppliesEnabledThemesAtStart(t *testing.T) {
	root := filepath.Join(t.TempDir(), "plugins")
	reg, err := plugin.Open(plugin.Options{Root: root, HostVersion: testVersion})
	require.NoError(t, err)
	installTheme(t, reg, "calm", ":root { --hint-color: 30; }")

	c := client.New(client.Options{})
	defer c.Close()
	host := newTerminalHost(c)
	newSession(c, reg, plugin.NewGate(reg, host, nil, nil), host, &syncBuffer{}, discardLogger)

	assert.Equal(t, map[string]string{varHintColor: "30"}, host.overrides())
}

func TestSession_RenderProgressByQuarter(t *testing.T) {
	s, out := newTestSession(t)
	for _, p := range []float64{10, 20, 30, 60, 99, 100} {
		require.NoError(t, s.render(client.FileProgress{Direction: client.Inbound, ID: "x", Name: "a.bin", Percent: p}))
	}
	lines := strings.Count(out.String(), "inbound a.bin")
	assert.Equal(t, 5, lines, out.String())
}

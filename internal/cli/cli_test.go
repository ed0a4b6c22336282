package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/touchfish-chat/internal/chattest"
	"github.com/omochice/touchfish-chat/internal/config"
	"github.com/omochice/touchfish-chat/internal/plugin"
)

const testVersion = "1.4.2"

// syncBuffer is a bytes.Buffer safe for the concurrent writers of a session.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func isolate(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	isolate(t, home)

	root := newRootCmd(testVersion)
	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writePluginFixture(t *testing.T, id, minAppVersion string, permissions ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := map[string]any{
		"id":            id,
		"name":          "Demo " + id,
		"version":       "0.1.0",
		"type":          "pack",
		"minAppVersion": minAppVersion,
	}
	if len(permissions) > 0 {
		manifest["permissions"] = permissions
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.DefaultMain), []byte("// demo\n"), 0o644))
	return dir
}

func TestVersionPrintsVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, testVersion+"\n", stdout)
}

func TestVersionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/release":
			assert.Equal(t, "touchfish/"+testVersion, r.Header.Get("User-Agent"))
			fmt.Fprint(w, `{"tag_name":"v1.5.0","html_url":"https://example.org/1.5.0"}`)
		case "/notice":
			fmt.Fprint(w, "first || second")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Setenv("TOUCHFISH_UPDATE_RELEASE_URL", srv.URL+"/release")
	t.Setenv("TOUCHFISH_UPDATE_NOTICE_URL", srv.URL+"/notice")

	stdout, _, err := executeCLI(t, t.TempDir(), "version", "--check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "A newer version is available: v1.5.0")
	assert.Contains(t, stdout, "Notice: first\nNotice: second\n")
}

func TestConfigInitAndShow(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(home, ".config", "touchfish", "config.toml")
	assert.Equal(t, "Wrote "+path+"\n", stdout)
	assert.FileExists(t, path)

	_, _, err = executeCLI(t, home, "config", "init")
	assert.ErrorIs(t, err, config.ErrExists)

	_, _, err = executeCLI(t, home, "config", "init", "--force")
	require.NoError(t, err)

	stdout, _, err = executeCLI(t, home, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[server]")
	assert.Contains(t, stdout, "127.0.0.1:8080")
	assert.Contains(t, stdout, "10ms")
}

func TestConfigShowHonorsFlagsAndFile(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nformat = \"json\"\n"), 0o600))

	stdout, _, err := executeCLI(t, home, "--config", path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "json")
	assert.Contains(t, stdout, "debug")
}

func TestPluginLifecycle(t *testing.T) {
	home := t.TempDir()
	src := writePluginFixture(t, "demo-pack", "1.0", "chat:send")

	stdout, _, err := executeCLI(t, home, "plugin", "install", src)
	require.NoError(t, err)
	assert.Equal(t, "Installed demo-pack 0.1.0 (pack)\n", stdout)

	stdout, _, err = executeCLI(t, home, "plugin", "list", "--json")
	require.NoError(t, err)
	var listed []pluginJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "demo-pack", listed[0].ID)
	assert.True(t, listed[0].Enabled)
	assert.Equal(t, []plugin.Capability{plugin.CapChatSend}, listed[0].Permissions)

	stdout, _, err = executeCLI(t, home, "plugin", "disable", "demo-pack")
	require.NoError(t, err)
	assert.Equal(t, "Disabled demo-pack\n", stdout)

	stdout, _, err = executeCLI(t, home, "plugin", "list", "--type", "pack")
	require.NoError(t, err)
	assert.Contains(t, stdout, "demo-pack\t0.1.0\tpack\tdisabled")

	stdout, _, err = executeCLI(t, home, "plugin", "list", "--type", "theme")
	require.NoError(t, err)
	assert.Equal(t, "no plugins installed\n", stdout)

	_, _, err = executeCLI(t, home, "plugin", "enable", "demo-pack")
	require.NoError(t, err)

	stdout, _, err = executeCLI(t, home, "plugin", "uninstall", "demo-pack")
	require.NoError(t, err)
	assert.Equal(t, "Uninstalled demo-pack\n", stdout)

	_, _, err = executeCLI(t, home, "plugin", "enable", "demo-pack")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestPluginInstallRejectsIncompatible(t *testing.T) {
	home := t.TempDir()
	src := writePluginFixture(t, "future-pack", "9.0")

	_, _, err := executeCLI(t, home, "plugin", "install", src)
	assert.ErrorIs(t, err, plugin.ErrIncompatibleVersion)

	stdout, _, err := executeCLI(t, home, "plugin", "list")
	require.NoError(t, err)
	assert.Equal(t, "no plugins installed\n", stdout)
}

func TestPluginListRejectsUnknownType(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "plugin", "list", "--type", "widget")
	assert.ErrorContains(t, err, `unknown plugin type "widget"`)
}

func TestConnectRequiresUsername(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "connect")
	assert.ErrorContains(t, err, "username is required")
}

func TestConnectSession(t *testing.T) {
	relay, err := chattest.NewTCP(nil)
	require.NoError(t, err)
	defer relay.Close()

	home := t.TempDir()
	isolate(t, home)

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	root := newRootCmd(testVersion)
	stdout := &syncBuffer{}
	root.SetOut(stdout)
	root.SetErr(&syncBuffer{})
	root.SetIn(stdinR)
	root.SetArgs([]string{"connect", "--server", relay.Addr(), "--username", "alice"})

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	waitOutput := func(want string) {
		t.Helper()
		require.Eventually(t, func() bool {
			return strings.Contains(stdout.String(), want)
		}, 5*time.Second, 10*time.Millisecond, "output so far:\n%s", stdout.String())
	}

	waitOutput("connected to")
	_, err = io.WriteString(stdinW, "hello room\n")
	require.NoError(t, err)
	waitOutput("alice: hello room")

	relay.Broadcast("[系统提示] bob joined")
	waitOutput("* bob joined")

	_, err = io.WriteString(stdinW, "/bogus\n")
	require.NoError(t, err)
	waitOutput("unknown command /bogus")

	_, err = io.WriteString(stdinW, "/quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after /quit")
	}
}

func TestConnectEndsWhenServerHangsUp(t *testing.T) {
	relay, err := chattest.NewTCP(nil)
	require.NoError(t, err)

	home := t.TempDir()
	isolate(t, home)

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	root := newRootCmd(testVersion)
	stdout := &syncBuffer{}
	root.SetOut(stdout)
	root.SetErr(&syncBuffer{})
	root.SetIn(stdinR)
	root.SetArgs([]string{"connect", "--server", relay.Addr(), "--username", "alice"})

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	require.Eventually(t, func() bool { return relay.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	relay.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after the server hung up")
	}
	assert.Contains(t, stdout.String(), "connection lost")
}

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/app"
)

const testPass = "Offline-Pay-2026!"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	passphrase, configPath, confirm = "", "", false
	root := newRoot()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLI(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Chdir(tmp)
	home := filepath.Join(tmp, "alice")
	base := []string{"--home", home, "-p", testPass, "--log.level", "error"}
	with := func(args ...string) []string { return append(args, base...) }

	out, err := run(t, with("init", "--device.id", "alice", "--device.name", "Alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Device:      alice")
	assert.FileExists(t, filepath.Join(home, "offpay.yaml"))

	_, err = run(t, with("init")...)
	assert.Error(t, err)

	out, err = run(t, with("fingerprint")...)
	require.NoError(t, err)
	share := regexp.MustCompile(`offpay trust alice ([0-9a-f]{64})`).FindStringSubmatch(out)
	require.Len(t, share, 2)

	_, err = run(t, with("trust", "bob", share[1], "--name", "Bob")...)
	require.NoError(t, err)
	out, err = run(t, with("peers")...)
	require.NoError(t, err)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "Bob")

	_, err = run(t, with("trust", "bob", "nothex")...)
	assert.Error(t, err)

	out, err = run(t, with("queue", "stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Total:     0")

	export := filepath.Join(tmp, "alice.zst")
	_, err = run(t, with("queue", "export", export)...)
	require.NoError(t, err)
	out, err = run(t, with("reconcile", "--file", export)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Matching 0")

	_, err = run(t, with("sync")...)
	assert.ErrorIs(t, err, app.ErrNoBackend)
	_, err = run(t, with("queue", "retry", "--conflicts", "--policy", "use_server")...)
	assert.ErrorIs(t, err, app.ErrNoBackend)
	_, err = run(t, with("queue", "retry", "tx-1")...)
	assert.ErrorContains(t, err, "--conflicts")
	_, err = run(t, with("pay", "bob", "1.00")...)
	assert.ErrorIs(t, err, app.ErrNoRelay)
	_, err = run(t, with("reconcile")...)
	assert.Error(t, err)

	out, err = run(t, with("settle", "--json")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"summary"`)

	t.Setenv("OFFPAY_BACKEND_TOKEN", "top-secret")
	out, err = run(t, with("config", "show")...)
	require.NoError(t, err)
	assert.Contains(t, out, "id: alice")
	assert.NotContains(t, out, "top-secret")

	written := filepath.Join(tmp, "copy.yaml")
	_, err = run(t, with("config", "write", "--path", written)...)
	require.NoError(t, err)
	b, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Contains(t, string(b), "top-secret")
}

func TestWrongPassphrase(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Chdir(tmp)
	home := filepath.Join(tmp, "h")

	_, err := run(t, "init", "--home", home, "-p", testPass)
	require.NoError(t, err)
	_, err = run(t, "queue", "list", "--home", home, "-p", "Not-The-Pass-1")
	assert.Error(t, err)

	_, err = run(t, "queue", "list", "--home", filepath.Join(tmp, "empty"), "-p", testPass)
	assert.ErrorContains(t, err, "offpay init")
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/config"
	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
)

// isolate points every search path at an empty temporary directory.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Chdir(tmp)
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)

	c, err := config.Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".offpay"), c.Home)
	assert.Equal(t, "file", c.Storage.Driver)
	assert.Equal(t, domain.Currency("USD"), c.Device.Currency)
	assert.Equal(t, 10, c.Sync.BatchSize)
	assert.Equal(t, domaintypes.PolicyUseServer, c.Sync.Policy)
	assert.Equal(t, time.Minute, c.Sync.Interval)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
	assert.Equal(t, domain.Amount(1_000_000), c.Validation.MaxAmount)
	assert.True(t, c.Validation.RequireSignature)
	assert.Equal(t, 5*time.Minute, c.Protocol.RequestTTL)
	assert.Equal(t, time.Hour, c.Protocol.SessionRetention)
	assert.Equal(t, 2, c.Protocol.SendRetries)
	assert.Equal(t, uint32(5), c.Backend.Breaker.ConsecutiveFailures)
	assert.Empty(t, c.HealthURL())
}

func TestLoadPrecedence(t *testing.T) {
	tmp := isolate(t)
	file := filepath.Join(tmp, "custom.yaml")
	body := "device:\n  id: alice\n  name: Alice\nsync:\n  batch_size: 4\n  interval: 30s\nbackend:\n  url: http://ledger.local/\n"
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))

	t.Setenv("OFFPAY_SYNC_BATCH_SIZE", "7")
	t.Setenv("OFFPAY_STORAGE_DRIVER", "memory")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("device.name", "", "")
	require.NoError(t, flags.Parse([]string{"--device.name=Alice's phone"}))

	c, err := config.Load(flags, file)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("alice"), c.Device.ID)
	assert.Equal(t, "Alice's phone", c.Device.Name)
	assert.Equal(t, 7, c.Sync.BatchSize)
	assert.Equal(t, 30*time.Second, c.Sync.Interval)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "http://ledger.local/health", c.HealthURL())
}

func TestLoadFindsFileInHome(t *testing.T) {
	tmp := isolate(t)
	dir := filepath.Join(tmp, ".offpay")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "offpay.yaml"), []byte("device:\n  id: bob\n"), 0o600))

	c, err := config.Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("bob"), c.Device.ID)
}

func TestLoadErrors(t *testing.T) {
	tmp := isolate(t)

	_, err := config.Load(nil, filepath.Join(tmp, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("OFFPAY_SYNC_CONFLICT_POLICY", "COIN_FLIP")
	_, err = config.Load(nil, "")
	assert.ErrorContains(t, err, "sync.conflict_policy")
}

func TestValidate(t *testing.T) {
	c := config.Config{}
	c.Storage.Driver = "postgres"
	c.Device.OpeningBalance = -1
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "storage.dsn")
	assert.ErrorContains(t, err, "opening_balance")

	c = config.Config{}
	c.Storage.Driver = "tape"
	assert.ErrorContains(t, c.Validate(), "tape")
}

func TestWriteFileRoundTrip(t *testing.T) {
	tmp := isolate(t)

	c, err := config.Load(nil, "")
	require.NoError(t, err)
	c.Device.ID = "carol"
	c.Device.OpeningBalance = 2500
	c.Backend.Token = "secret-token"
	c.Sync.Policy = domaintypes.PolicyMerge
	c.Sync.Interval = 90 * time.Second

	path := filepath.Join(tmp, "out", "offpay.yaml")
	require.NoError(t, config.WriteFile(&c, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := config.Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestLoadDotEnv(t *testing.T) {
	tmp := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".env"), []byte("OFFPAY_DEVICE_ID=dave\n"), 0o600))
	t.Setenv("OFFPAY_DEVICE_ID", "")
	require.NoError(t, os.Unsetenv("OFFPAY_DEVICE_ID"))

	require.NoError(t, config.LoadDotEnv())
	c, err := config.Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("dave"), c.Device.ID)

	assert.NoError(t, config.LoadDotEnv(filepath.Join(tmp, "nope.env")))
}

func TestLoadFindsFileInFlagHome(t *testing.T) {
	tmp := isolate(t)
	dir := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "offpay.yaml"), []byte("device:\n  id: erin\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("home", "", "")
	require.NoError(t, flags.Parse([]string{"--home", dir}))

	c, err := config.Load(flags, "")
	require.NoError(t, err)
	assert.Equal(t, dir, c.Home)
	assert.Equal(t, domain.DeviceID("erin"), c.Device.ID)
}

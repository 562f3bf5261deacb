package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	fee, err := cfg.Market.ListingFeeWei()
	require.NoError(t, err)
	assert.Equal(t, "25000000000000000", fee.Dec())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Market.ListingFee = "-1"
	cfg.Market.Address = "0x0000000000000000000000000000000000000000"
	cfg.Postgres.Enabled = true
	cfg.Postgres.PoolMinConns = 20
	cfg.Server.Port = 70000
	cfg.Notify.WebhookURL = "https://hooks.example.com/marketd"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"market: listing_fee",
		"market: address",
		"postgres: pool_min_conns must not exceed pool_max_conns",
		"server: port must be 1-65535",
		"notify: webhook_secret is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSnapshotModeNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "snapshot"
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "snapshot"
log_level = "debug"

[market]
listing_fee = "7"
guard_ttl = "5s"

[market.seed_funds]
"0x0000000000000000000000000000000000000001" = "1000"

[server]
port = 9000
`), 0o600))

	t.Setenv("MARKETD_SERVER_PORT", "9100")
	t.Setenv("MARKETD_NOTIFY_EVENTS", "ItemSold, ItemListed ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "7", cfg.Market.ListingFee)
	assert.Equal(t, 5*time.Second, cfg.Market.GuardTTL.Duration)
	assert.Equal(t, "1000", cfg.Market.SeedFunds["0x0000000000000000000000000000000000000001"])
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"ItemSold", "ItemListed"}, cfg.Notify.Events)
	// Untouched defaults survive.
	assert.Equal(t, "market:events", cfg.Relay.Channel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.Events = []string{"ItemSold"}
	cfg.Notify.WebhookSecret = "whsec"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Operator.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Notify.WebhookSecret)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "ItemSold", cfg.Notify.Events[0])
	assert.Equal(t, "deadbeef", cfg.Operator.PrivateKey)
}

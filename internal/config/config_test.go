package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Scan.Workers)
	assert.Equal(t, 30*time.Second, cfg.Scan.FetchTimeout)
	assert.Equal(t, time.Hour, cfg.Redis.ClaimTTL)
	assert.Equal(t, 10*time.Second, cfg.Rules.Timeout)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
log:
  level: debug
database:
  driver: postgres
  dsn: "host=localhost user=complyscan dbname=complyscan"
rules:
  file: rules.json
scan:
  workers: 8
tables:
  - table: transactions
    id_field: tx_id
    entity_field: account_id
    timestamp_field: created_at
    amount_field: amount
  - table: transfers
    id_field: transfer_id
    entity_field: sender_id
    timestamp_field: executed_at
    amount_field: value
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "rules.json", cfg.Rules.File)
	assert.Equal(t, 8, cfg.Scan.Workers)
	require.Len(t, cfg.Tables, 2)

	schemas := cfg.Schemas()
	require.Contains(t, schemas, "transfers")
	assert.Equal(t, "transfer_id", schemas["transfers"].IDField)
	assert.Equal(t, "sender_id", schemas["transfers"].EntityField)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: loud
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadRuleSourceURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  source_url: "not a url"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

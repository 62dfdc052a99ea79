package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  address: ":8081"
storage:
  driver: memory
  seed_performers: ["performer-1", "performer-2"]
auth:
  jwt_secret: from-file
gateway:
  secret_key: skey_file
  timeout: 3s
fanout:
  broker: kafka
kafka:
  brokers: ["kafka:9092"]
booking:
  dedup_window: 1h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Address)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, []string{"performer-1", "performer-2"}, cfg.Storage.SeedPerformers)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, time.Hour, cfg.Booking.DedupWindow)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Booking.ReconcileRetries)
	assert.Equal(t, "promptpay", cfg.Gateway.SourceType)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STAGEBOOK_GATEWAY_SECRET_KEY", "skey_env")
	t.Setenv("STAGEBOOK_AUTH_JWT_SECRET", "from-env")
	t.Setenv("STAGEBOOK_BOOKING_RECONCILE_RETRIES", "5")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "skey_env", cfg.Gateway.SecretKey)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 5, cfg.Booking.ReconcileRetries)
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("STAGEBOOK_AUTH_JWT_SECRET", "secret")
	t.Setenv("STAGEBOOK_STORAGE_DRIVER", "memory")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	cfg.Auth.JWTSecret = "x"
	cfg.Fanout.Broker = "rabbitmq"
	assert.ErrorContains(t, cfg.Validate(), "rabbitmq.url")

	cfg.Fanout.Broker = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg.Fanout.Broker = "none"
	assert.NoError(t, cfg.Validate())

	cfg.Worker.SweepInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "sweep_interval")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}

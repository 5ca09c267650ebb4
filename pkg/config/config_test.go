package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 8081
database:
  driver: sqlite
  path: /tmp/storefront.db
auth:
  jwt_secret: s3cret
idgen:
  datacenter_id: 3
  worker_id: 7
notification:
  retry_delay: 5s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/storefront.db", cfg.Database.DSN())
	assert.EqualValues(t, 3, cfg.IDGen.DatacenterID)
	assert.EqualValues(t, 7, cfg.IDGen.WorkerID)
	assert.Equal(t, 5*time.Second, cfg.Notification.RetryDelay)

	// defaults
	assert.Equal(t, 3, cfg.Notification.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.True(t, cfg.Orders.StrictTransitions)
	assert.Equal(t, "orders", cfg.Kafka.Topic)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STOREFRONT_SERVER_PORT", "9999")

	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantError string
	}{
		{
			name:      "worker id out of range",
			content:   "auth:\n  jwt_secret: x\ndatabase:\n  driver: sqlite\nidgen:\n  worker_id: 32\n",
			wantError: "idgen.worker_id must be between 0 and 31, got 32",
		},
		{
			name:      "worker id claim without etcd",
			content:   "auth:\n  jwt_secret: x\ndatabase:\n  driver: sqlite\nidgen:\n  claim_from_etcd: true\n",
			wantError: "idgen.claim_from_etcd requires etcd.endpoints",
		},
		{
			name:      "missing secret",
			content:   "database:\n  driver: sqlite\n",
			wantError: "auth.jwt_secret is required",
		},
		{
			name:      "unknown driver",
			content:   "auth:\n  jwt_secret: x\ndatabase:\n  driver: oracle\n",
			wantError: `database.driver "oracle" is not supported`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	mysql := config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, Username: "u", Password: "p", Database: "shop"}
	assert.Equal(t, "u:p@tcp(db:3306)/shop?charset=utf8mb4&parseTime=True&loc=Local", mysql.DSN())

	pg := config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Username: "u", Password: "p", Database: "shop", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=shop sslmode=disable", pg.DSN())
}

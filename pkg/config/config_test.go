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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Indexer.NumShards)
	assert.Equal(t, "document-ingest", cfg.Kafka.Topics.DocumentIngest)
	assert.Equal(t, "segment-built", cfg.Kafka.Topics.SegmentBuilt)
	assert.Equal(t, "Lucene90", cfg.ForwardIndex.Delegate)
	assert.Equal(t, 2*time.Second, cfg.Lookup.Timeout)
	assert.False(t, cfg.Postgres.Enabled)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9000
indexer:
  dataDir: /var/lib/fwd
  numShards: 2
  flushInterval: 5s
forwardIndex:
  suffix: ner
  verifyOnOpen: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("FWD_SERVER_PORT", "9100")
	t.Setenv("FWD_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("FWD_LOOKUP_TIMEOUT", "750ms")
	t.Setenv("FWD_TRACING_SAMPLE_RATE", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/var/lib/fwd", cfg.Indexer.DataDir)
	assert.Equal(t, 2, cfg.Indexer.NumShards)
	assert.Equal(t, 5*time.Second, cfg.Indexer.FlushInterval)
	assert.Equal(t, "ner", cfg.ForwardIndex.Suffix)
	assert.True(t, cfg.ForwardIndex.VerifyOnOpen)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 750*time.Millisecond, cfg.Lookup.Timeout)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
	// untouched sections keep their defaults
	assert.Equal(t, "Lucene90", cfg.ForwardIndex.Delegate)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"shards":  "indexer:\n  numShards: 0\n",
		"suffix":  "forwardIndex:\n  suffix: a_b\n",
		"version": "forwardIndex:\n  minVersion: 3\n  maxVersion: 2\n",
		"sampling": "tracing:\n  sampleRate: 1.5\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}

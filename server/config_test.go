package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
aws:
  documentdb:
    connection_string: mongodb://bloguser@docdb.cluster.local:27017/?tls=true
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.HTTPPort)
	assert.Equal(t, 8081, config.Server.GRPCPort)
	assert.Equal(t, "us-west-2", config.AWS.Region)
	assert.Equal(t, "blog", config.AWS.DocumentDB.DatabaseName)
	assert.Equal(t, "blogs", config.AWS.DocumentDB.BlogsCollection)
	assert.Equal(t, "comments", config.AWS.DocumentDB.CommentsCollection)
	assert.Equal(t, "SCRAM-SHA-1", config.AWS.DocumentDB.AuthMechanism)
	assert.Equal(t, "admin", config.AWS.DocumentDB.AuthSource)
	assert.Equal(t, 10, config.Function.TimeoutSeconds)
	assert.Equal(t, 100, config.Function.MaxPageSize)
	assert.False(t, config.Function.DisableTestData)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
aws:
  region: eu-west-1
  documentdb:
    connection_string: mongodb://localhost:27017
    database_name: posts
    blogs_collection: articles
    tls_skip_verify: true
function:
  max_page_size: 25
  disable_test_data: true
log:
  level: debug
  format: text
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.HTTPPort)
	assert.Equal(t, "eu-west-1", config.AWS.Region)
	assert.Equal(t, "posts", config.AWS.DocumentDB.DatabaseName)
	assert.Equal(t, "articles", config.AWS.DocumentDB.BlogsCollection)
	assert.True(t, config.AWS.DocumentDB.TLSSkipVerify)
	assert.Equal(t, 25, config.Function.MaxPageSize)
	assert.True(t, config.Function.DisableTestData)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "config file not found")
	})

	t.Run("missing connection string", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server:\n  http_port: 9000\n"))
		assert.ErrorContains(t, err, "connection_string is required")
	})

	t.Run("negative page size", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
aws:
  documentdb:
    connection_string: mongodb://localhost:27017
function:
  max_page_size: -1
`))
		assert.ErrorContains(t, err, "max_page_size")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "aws: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config")
	})
}

func TestParseConfig_JSON(t *testing.T) {
	config, err := parseConfig([]byte(`{"aws":{"documentdb":{"connection_string":"mongodb://localhost:27017"}},"function":{"timeout_seconds":3}}`), json.Unmarshal)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Function.TimeoutSeconds)
	assert.Equal(t, "blogs", config.AWS.DocumentDB.BlogsCollection)
}

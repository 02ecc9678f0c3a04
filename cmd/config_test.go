package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigOverlaysFiles(t *testing.T) {
	key := writeFile(t, "pod.pem", "PEM")
	base := writeFile(t, "base.yaml", `
pod:
  host: pod.example
  privateKeyPath: `+key+`
server:
  dsn: host=db
  redisAddr: redis:6379
`)
	local := writeFile(t, "local.yaml", `
server:
  redisAddr: localhost:6379
  port: "9000"
`)

	config, err := loadConfig([]string{base, local})
	require.NoError(t, err)
	assert.Equal(t, "pod.example", config.Pod.Host)
	assert.Equal(t, "PEM", config.Pod.PrivateKey)
	assert.Equal(t, "host=db", config.Server.Dsn)
	assert.Equal(t, "localhost:6379", config.Server.RedisAddr)
	assert.Equal(t, "9000", config.Server.Port)
	assert.Equal(t, "info", config.Server.LogLevel)
}

func TestLoadConfigRequiresPod(t *testing.T) {
	_, err := loadConfig([]string{writeFile(t, "empty.yaml", "server: {}\n")})
	assert.ErrorContains(t, err, "pod.host")

	_, err = loadConfig([]string{writeFile(t, "nokey.yaml", "pod:\n  host: pod.example\n")})
	assert.ErrorContains(t, err, "privateKey")
}

func TestConfigPaths(t *testing.T) {
	t.Setenv("CCMIGRATE_CONFIG", "/a.yaml")
	t.Setenv("CCMIGRATE_CONFIGS", "/b.yaml:/c.yaml")
	assert.Equal(t, []string{"/a.yaml", "/b.yaml", "/c.yaml"}, configPaths(""))
	assert.Equal(t, []string{"/x.yaml", "/a.yaml", "/b.yaml", "/c.yaml"}, configPaths("/x.yaml"))

	t.Setenv("CCMIGRATE_CONFIG", "")
	t.Setenv("CCMIGRATE_CONFIGS", "")
	assert.Equal(t, []string{"/etc/ccmigrate/config.yaml"}, configPaths(""))
}

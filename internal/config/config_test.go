package config

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/repos", cfg.RepoRoot)
	assert.False(t, cfg.TorEnabled)
}

func TestLoadReadsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GIT_REPO_ROOT", "/data/repos")
	t.Setenv("GIT_DOMAIN", "git.example.test")
	t.Setenv("TOR_ENABLED", "true")
	t.Setenv("MAX_REPOS_PER_USER", "25")
	t.Setenv("GITREPUBLIC_RELAYS", "wss://a.test, wss://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/repos", cfg.RepoRoot)
	assert.Equal(t, "git.example.test", cfg.Domain)
	assert.True(t, cfg.TorEnabled)
	assert.Equal(t, 25, cfg.MaxReposPerUser)
	assert.Equal(t, []string{"wss://a.test", "wss://b.test"}, cfg.Relays)
}

func TestTorHostnamePrefersOnionAddress(t *testing.T) {
	cfg := &Config{TorOnionAddress: "abc.onion"}
	host, err := cfg.TorHostname(func(string) (string, error) {
		return "", fmt.Errorf("should not be called")
	})
	require.NoError(t, err)
	assert.Equal(t, "abc.onion", host)
}

func TestTorHostnameFallsBackToFile(t *testing.T) {
	cfg := &Config{TorHostnameFile: "/var/lib/tor/hostname"}
	host, err := cfg.TorHostname(func(path string) (string, error) {
		assert.Equal(t, "/var/lib/tor/hostname", path)
		return "def.onion\n", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "def.onion", host)
}

func TestTorHostnameErrorsWithNeitherSet(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.TorHostname(func(string) (string, error) { return "", nil })
	assert.Error(t, err)
}

func TestResolveSecretKeyPrecedence(t *testing.T) {
	env := map[string]string{
		"NOSTRGIT_SECRET_KEY": "from-generic",
		"NSEC":                "from-nsec",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	v, source, found := ResolveSecretKey(lookup)
	require.True(t, found)
	assert.Equal(t, "from-generic", v)
	assert.Equal(t, "NOSTRGIT_SECRET_KEY", source)
}

func TestResolveSecretKeyFallsBackToNsec(t *testing.T) {
	env := map[string]string{"NSEC": "nsec1xyz"}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	v, source, found := ResolveSecretKey(lookup)
	require.True(t, found)
	assert.Equal(t, "nsec1xyz", v)
	assert.Equal(t, "NSEC", source)
}

func TestResolveSecretKeyNotFound(t *testing.T) {
	_, _, found := ResolveSecretKey(func(string) (string, bool) { return "", false })
	assert.False(t, found)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GIT_REPO_ROOT", "GIT_DOMAIN", "TOR_ENABLED", "TOR_ONION_ADDRESS",
		"TOR_HOSTNAME_FILE", "SSH_ATTESTATION_LOOKUP_SECRET",
		"MAX_REPOS_PER_USER", "MAX_DISK_QUOTA_PER_USER", "GITREPUBLIC_RELAYS",
	} {
		val, had := os.LookupEnv(name)
		os.Unsetenv(name)
		if had {
			t.Cleanup(func() { os.Setenv(name, val) })
		}
	}
}

// Package config loads the gateway's runtime configuration with viper,
// binding the explicit environment variables of spec.md §6 rather than a
// single namespaced prefix (there is no config.yaml for this service; every
// setting is meant to come from the container environment).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway's fully-resolved runtime configuration.
type Config struct {
	RepoRoot   string `mapstructure:"git_repo_root"`
	Domain     string `mapstructure:"git_domain"`
	TorEnabled bool   `mapstructure:"tor_enabled"`

	TorOnionAddress  string `mapstructure:"tor_onion_address"`
	TorHostnameFile  string `mapstructure:"tor_hostname_file"`

	SSHAttestationSecret string `mapstructure:"ssh_attestation_lookup_secret"`

	MaxReposPerUser    int   `mapstructure:"max_repos_per_user"`
	MaxDiskQuotaPerUser int64 `mapstructure:"max_disk_quota_per_user"`

	Relays []string `mapstructure:"relays"`
}

// Load builds a Config from the process environment, applying spec.md §6's
// defaults. GIT_DOMAIN, TOR_ONION_ADDRESS, and SSH_ATTESTATION_LOOKUP_SECRET
// have no safe default and are left empty when unset; callers that need them
// must check explicitly.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"git_repo_root":                 "GIT_REPO_ROOT",
		"git_domain":                    "GIT_DOMAIN",
		"tor_enabled":                   "TOR_ENABLED",
		"tor_onion_address":             "TOR_ONION_ADDRESS",
		"tor_hostname_file":             "TOR_HOSTNAME_FILE",
		"ssh_attestation_lookup_secret": "SSH_ATTESTATION_LOOKUP_SECRET",
		"max_repos_per_user":            "MAX_REPOS_PER_USER",
		"max_disk_quota_per_user":       "MAX_DISK_QUOTA_PER_USER",
		"relays":                        "GITREPUBLIC_RELAYS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	v.SetDefault("git_repo_root", "/repos")
	v.SetDefault("tor_enabled", false)
	v.SetDefault("max_repos_per_user", 0)
	v.SetDefault("max_disk_quota_per_user", int64(0))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// viper's default StringToSliceHookFunc already splits GITREPUBLIC_RELAYS
	// on commas; trim the whitespace it leaves behind and drop empties.
	trimmed := cfg.Relays[:0]
	for _, r := range cfg.Relays {
		if r = strings.TrimSpace(r); r != "" {
			trimmed = append(trimmed, r)
		}
	}
	cfg.Relays = trimmed

	return cfg, nil
}

// TorHostname resolves the onion hostname, preferring TOR_ONION_ADDRESS and
// falling back to reading TOR_HOSTNAME_FILE (the path Tor itself writes its
// generated hostname to), per spec.md §6.
func (c *Config) TorHostname(readFile func(string) (string, error)) (string, error) {
	if c.TorOnionAddress != "" {
		return c.TorOnionAddress, nil
	}
	if c.TorHostnameFile == "" {
		return "", fmt.Errorf("config: neither TOR_ONION_ADDRESS nor TOR_HOSTNAME_FILE set")
	}
	content, err := readFile(c.TorHostnameFile)
	if err != nil {
		return "", fmt.Errorf("config: read tor hostname file: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// Command gitrepublic-migrate-npub-dirs symlinks legacy hex-pubkey
// repository directories (left over from a teacher-style bridge, keyed by
// raw hex pubkey) to their npub-encoded equivalents, so repo.Locator's
// npub-addressable paths resolve without moving any object data.
package main

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/nostr-git/gitrepublic/internal/config"
	"github.com/nostr-git/gitrepublic/internal/logging"
	"github.com/nostr-git/gitrepublic/nostr"
)

func main() {
	log := logging.Default("migrate-npub-dirs")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("load configuration")
		os.Exit(1)
	}

	log.Info().Str("root", cfg.RepoRoot).Msg("scanning repository root")

	entries, err := os.ReadDir(cfg.RepoRoot)
	if err != nil {
		log.Error().Err(err).Msg("read repository root")
		os.Exit(1)
	}

	var created, updated, skipped, failed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hexPubkey := entry.Name()
		if len(hexPubkey) != 64 {
			continue
		}
		if _, err := hex.DecodeString(hexPubkey); err != nil {
			continue
		}

		npub, err := nostr.EncodeNpub(hexPubkey)
		if err != nil {
			log.Warn().Err(err).Str("hex", hexPubkey).Msg("encode npub")
			failed++
			continue
		}

		hexPath := filepath.Join(cfg.RepoRoot, hexPubkey)
		npubPath := filepath.Join(cfg.RepoRoot, npub)

		if info, err := os.Lstat(npubPath); err == nil {
			if info.Mode()&os.ModeSymlink == 0 {
				log.Warn().Str("npub", npub).Msg("npub path exists as a real directory, not a symlink; skipping")
				failed++
				continue
			}
			target, err := os.Readlink(npubPath)
			if err == nil && filepath.Clean(filepath.Join(cfg.RepoRoot, target)) == filepath.Clean(hexPath) {
				skipped++
				continue
			}
			os.Remove(npubPath)
			if err := os.Symlink(hexPubkey, npubPath); err != nil {
				log.Warn().Err(err).Str("npub", npub).Msg("update symlink")
				failed++
				continue
			}
			updated++
			continue
		}

		if err := os.Symlink(hexPubkey, npubPath); err != nil {
			log.Warn().Err(err).Str("npub", npub).Msg("create symlink")
			failed++
			continue
		}
		created++
	}

	log.Info().Int("created", created).Int("updated", updated).Int("skipped", skipped).Int("failed", failed).Msg("migration complete")
	if failed > 0 {
		os.Exit(1)
	}
}

package policy

import "context"

// SSHAttestationLookup is the narrow capability a future SSH surface would
// plug in here: resolve the access rights an SSH-key attestation (kind
// 30001) grants a pubkey for a repository, in the ADMIN/WRITE/READ grammar
// git-nostr-ssh's isReadAllowed/isWriteAllowed/isAdminAllowed checks. No
// implementation ships with this package; SSH access itself is out of
// scope, but CanView/CanPushToBranch consult this hook when present so the
// SSH surface does not need to duplicate policy logic.
type SSHAttestationLookup interface {
	Rights(ctx context.Context, actorPubkey, owner, repoName string) (rights string, found bool, err error)
}

func readAllowed(rights string) bool  { return rights == "ADMIN" || rights == "READ" || rights == "WRITE" }
func writeAllowed(rights string) bool { return rights == "ADMIN" || rights == "WRITE" }

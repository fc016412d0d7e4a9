package nostr

// Kind numbers this gateway must match exactly, per spec.md §3. These extend
// (not replace) the teacher's protocol/kind.go constants, which cover only
// the teacher's own legacy kinds 50-52 and the NIP-34 kinds 30617/30618.
const (
	KindProfile      = 0
	KindContacts     = 3
	KindDeletion     = 5
	KindPublicMessage = 24
	KindRelayList    = 10002

	KindHTTPAuth    = 27235 // NIP-98
	KindRelayAuth   = 22242 // NIP-42

	KindSSHAttestation    = 30001
	KindRepoAnnouncement  = 30617 // NIP-34, d-tag = repo name
	KindMaintainers       = 30618
	KindBranchProtection  = 30619
	KindOwnershipTransfer = 30620

	KindPullRequest       = 1618
	KindPROpen            = 1630
	KindPRApplied         = 1631
	KindPRClosed          = 1632
	KindPRDraft           = 1633
	KindCommitSignature   = 1640
)

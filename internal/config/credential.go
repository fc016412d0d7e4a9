package config

// secretKeyEnvPrecedence is the credential helper's lookup order from
// spec.md §6: the most specific, client-scoped variable wins, falling back
// through progressively more generic Nostr key conventions.
var secretKeyEnvPrecedence = []string{
	"NOSTRGIT_SECRET_KEY_CLIENT",
	"NOSTRGIT_SECRET_KEY",
	"NOSTR_PRIVATE_KEY",
	"NSEC",
}

// ResolveSecretKey returns the first non-empty value among the precedence
// chain, using lookup (normally os.LookupEnv) so tests can inject a fake
// environment.
func ResolveSecretKey(lookup func(string) (string, bool)) (value string, source string, found bool) {
	for _, name := range secretKeyEnvPrecedence {
		if v, ok := lookup(name); ok && v != "" {
			return v, name, true
		}
	}
	return "", "", false
}

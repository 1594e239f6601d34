package town

import "github.com/NicolasHaas/townhall/pkg/crypto"

// OverridePasswordEnv is the single configuration key holding the
// administrative override password.
const OverridePasswordEnv = "MASTER_TOWN_PASSWORD"

// PasswordMatches reports whether provided unlocks a town whose update
// password is expected. A non-empty override unlocks every town.
func PasswordMatches(provided, expected, override string) bool {
	if crypto.SecretsEqual(provided, expected) {
		return true
	}
	if override != "" && crypto.SecretsEqual(provided, override) {
		return true
	}
	return false
}

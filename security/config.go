package security

import "corekit.dev/corecfg"

// CSRFConfigFromEnv resolves CSRF field names and token lifetime from the
// CSRF_* environment variables of §6.1. CSRF_SECRET gates whether issuance
// is enabled at all; ok is false when it is unset.
func CSRFConfigFromEnv() (tokenField, headerField string, expiryMinutes int, ok bool) {
	env := corecfg.NewEnvConfig("CSRF")
	secret := env.GetString("SECRET", "")
	if secret == "" {
		return "", "", 0, false
	}
	return env.GetString("TOKEN_FIELD", "_csrf"),
		env.GetString("HEADER_FIELD", "x-csrf-token"),
		env.GetInt("EXPIRY_MIN", 60),
		true
}

// EncryptionKeyFromEnv decodes ENCRYPTION_KEY as hex, returning ok=false if
// unset or malformed.
func EncryptionKeyFromEnv() (key []byte, ok bool) {
	env := corecfg.NewEnvConfig("")
	return env.GetHexBytes("ENCRYPTION_KEY")
}

// SanitizeConfigFromEnv resolves the default max length and HTML
// allow-list from SANITIZE_* environment variables.
func SanitizeConfigFromEnv() (maxLen int, allowedTags []string) {
	env := corecfg.NewEnvConfig("SANITIZE")
	return env.GetInt("MAX_LEN", 1000), env.GetStringSlice("ALLOWED_TAGS", nil)
}

package common

// MaskSecret hides sensitive strings for safe logging and API responses.
// Strings longer than 8 characters keep their first and last 4 characters.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

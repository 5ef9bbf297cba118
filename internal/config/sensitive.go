package config

// DefaultSensitiveURLPatterns returns the URL path fragments of pages where
// typed values are never worth recording: sign-in, password reset and
// payment flows.
func DefaultSensitiveURLPatterns() []string {
	return []string{
		// Authentication
		"/login",
		"/signin",
		"/password",
		"/reset",

		// Payment
		"/checkout",
		"/payment",
		"/pagamento",
	}
}

// Package env holds the tiny environment lookups needed before the typed
// config is parsed, such as the log output format.
package env

import "os"

// Get returns the environment variable's value, or the fallback when it is
// unset or empty.
func Get(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

package cli

import "os"

// Environment variables read for flag defaults.
const (
	EnvTarget = "OVSDB_TARGET"
	EnvSchema = "OVSDB_SCHEMA"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

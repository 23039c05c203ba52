package config

import "os"

// ExpandEnv expands environment variables in YAML content using standard
// shell-style ${VAR} and $VAR syntax. Missing variables expand to the empty
// string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

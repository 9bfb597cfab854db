package config

import (
	"os"
	"regexp"
)

// envWithDefaultPattern matches "${NAME}" and "${NAME:-default}", the
// shell-style syntax the teacher's generated config YAML uses throughout
// (cmd/agent_yaml.go: "${GATEWAY_PORT:-18080}", "${COMPRESR_API_KEY:-}").
var envWithDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnvWithDefaults expands "${VAR}"/"${VAR:-default}" references in
// raw config text before it is handed to the YAML parser, so a missing
// environment variable falls back to its declared default instead of
// leaving the literal placeholder in the parsed value.
func expandEnvWithDefaults(raw string) string {
	return envWithDefaultPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envWithDefaultPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

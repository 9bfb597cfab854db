package main

import (
	"os"
	"path/filepath"
	"testing"
)

const validateConfigSample = `
pipelines:
  - name: chat-gateway
    hostname: gateway.internal.example.com
    auth:
      mode: none
    selector:
      type: random
      endpoints:
        - id: only
          kind: openai
          base_url: "https://api.openai.example.com/v1"
          bearer_key: "sk-only"
          model_map:
            gpt-4: gpt-4
`

func TestRun_ValidateConfigLoadsAndBuildsWithoutServing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(validateConfigSample), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	run([]string{"-c", path, "--validate-config"})
}

func TestRun_HelpDoesNotExit(t *testing.T) {
	run([]string{"--help"})
}

package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/prmemory/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // secrets that are not set
	Present  map[string]string // secrets that are set, masked
	Warnings []string          // non-fatal findings
}

// CheckSecrets reports which credentials are configured without printing them.
func CheckSecrets(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{Present: make(map[string]string)}

	secrets := map[string]string{
		"database.url":          cfg.Database.URL,
		"github.webhook_secret": cfg.GitHub.WebhookSecret,
		"server.api_secret_key": cfg.Server.APISecretKey,
	}
	if cfg.LLM.Provider != "ollama" {
		secrets["llm.api_key"] = cfg.LLM.APIKey
	}
	if cfg.Embedding.Provider == "openai" {
		secrets["embedding.api_key"] = cfg.Embedding.APIKey
	}

	for key, val := range secrets {
		if val == "" {
			result.Missing = append(result.Missing, key)
		} else {
			result.Present[key] = maskSecret(val)
		}
	}
	sort.Strings(result.Missing)

	if cfg.GitHub.PrivateKeyPath != "" {
		if _, err := os.Stat(cfg.GitHub.PrivateKeyPath); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("github private key %s is not readable: %v", cfg.GitHub.PrivateKeyPath, err))
		}
	}
	if cfg.GitHub.WebhookSecret == "" {
		result.Warnings = append(result.Warnings, "webhook deliveries will be rejected until github.webhook_secret is set")
	}
	if cfg.Server.APISecretKey == "" {
		result.Warnings = append(result.Warnings, "the /api endpoints reject every request until server.api_secret_key is set")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing secrets:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured secrets:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

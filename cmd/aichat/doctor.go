package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aichat/internal/adapter/store/sqlite"
	"aichat/internal/domain"
	"aichat/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(args []string) error {
	fs, cfgFlag := newFlagSet("doctor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfgPath := configPath(*cfgFlag)

	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Provider keys", Fn: checkProviderKeys},
		{Name: "Provider connectivity", Fn: checkProviderConnectivity},
		{Name: "Data directory", Fn: checkDataDir},
		{Name: "Database", Fn: checkDatabase},
	}

	fmt.Println("aichat doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and file permissions (0600 or 0644)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or set AICHAT_CONFIG",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkProviderKeys verifies configured providers carry an API key.
func checkProviderKeys(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if len(cfg.Providers) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no providers in the config file",
			Fix:     "Add one under providers: or run 'aichat providers add'",
		}
	}

	var withKey, withoutKey []string
	for _, p := range cfg.Providers {
		if strings.TrimSpace(p.APIKey) != "" {
			withKey = append(withKey, p.ID)
		} else {
			withoutKey = append(withoutKey, p.ID)
		}
	}
	switch {
	case len(withKey) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys for providers: %s", strings.Join(withoutKey, ", ")),
			Fix:     "Set AICHAT_PROVIDER_<ID>_API_KEY or api_key in config.yaml",
		}
	case len(withoutKey) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API keys configured for: %s", strings.Join(withKey, ", ")),
	}
}

// checkProviderConnectivity tests whether the default provider answers.
func checkProviderConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	p := defaultProvider(cfg)
	if p == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, no default provider"}
	}
	endpoint := modelsEndpoint(p)
	if endpoint == "" {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("skipped, provider %q has no base URL", p.ID)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (HTTP %d, latency: %dms)", p.ID, resp.StatusCode, latency.Milliseconds()),
	}
}

func defaultProvider(cfg *config.Config) *domain.ProviderConfig {
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == cfg.DefaultProvider {
			return &cfg.Providers[i]
		}
	}
	if len(cfg.Providers) > 0 {
		return &cfg.Providers[0]
	}
	return nil
}

// modelsEndpoint returns an unauthenticated URL that shows the provider is up.
func modelsEndpoint(p *domain.ProviderConfig) string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	switch p.Type {
	case domain.ProviderOpenRouter:
		return "https://openrouter.ai/api/v1/models"
	case domain.ProviderOpenAI:
		if base == "" {
			base = "https://api.openai.com/v1"
		}
	}
	if base == "" {
		return ""
	}
	return base + "/models"
}

// checkDataDir verifies the database directory exists or can be created,
// and is writable.
func checkDataDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Store.Driver == "memory" {
		return CheckResult{Status: StatusPass, Message: "memory store (nothing is persisted)"}
	}

	dir, _ := filepath.Abs(filepath.Dir(cfg.Store.Path))
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("data directory %s does not exist and cannot be created: %v", dir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", dir),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("data directory created at %s", dir)}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat data directory: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", dir)}
	}

	marker := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	os.Remove(marker)
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("data directory %s writable", dir)}
}

// checkDatabase opens the database, which also runs pending migrations.
func checkDatabase(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Store.Driver == "memory" {
		return CheckResult{Status: StatusPass, Message: "memory store"}
	}
	s, err := sqlite.Open(cfg.Store.Path, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Store.Path, err),
			Fix:     "Restore from a backup with 'aichat import' or move the file aside",
		}
	}
	defer s.Close()

	st, err := s.Stats(context.Background())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot read %s: %v", cfg.Store.Path, err)}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d conversations, %d messages (%s)", st.ConversationCount, st.MessageCount, humanBytes(st.TotalSize)),
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"esgwatch/internal/dashboard"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: esgwatch\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base url %s", cfg.API.BaseURL)
	}
	if cfg.Live.ReconnectDelay != 3*time.Second {
		t.Fatalf("reconnect delay should default to 3s, got %s", cfg.Live.ReconnectDelay)
	}
	if cfg.LatestPolicy() != dashboard.MergeLastWrite {
		t.Fatalf("unexpected policy %s", cfg.LatestPolicy())
	}
	if cfg.Dashboard.Range != "30d" || cfg.Alerting.MinSeverity != 7 {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Dashboard, cfg.Alerting)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("ESG_API_URL", "https://esg.example.com")
	t.Setenv("ESGWATCH_DASHBOARD_LATEST_POLICY", "newest")

	cfg, err := Load(writeConfig(t, "live:\n  reconnect_delay: 500ms\nexport:\n  max_data_points: 10\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "https://esg.example.com" {
		t.Fatalf("env base url not applied: %s", cfg.API.BaseURL)
	}
	if cfg.LatestPolicy() != dashboard.MergeNewest {
		t.Fatalf("env policy not applied: %s", cfg.Dashboard.LatestPolicy)
	}
	if cfg.Live.ReconnectDelay != 500*time.Millisecond || cfg.ResolveMaxPoints(0) != 10 || cfg.ResolveMaxPoints(3) != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad scheme":      "api:\n  base_url: ftp://x\n",
		"bad policy":      "dashboard:\n  latest_policy: sometimes\n",
		"severity":        "alerting:\n  min_severity: 11\n",
		"telegram fields": "alerting:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

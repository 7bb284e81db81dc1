package urltemplate

import (
	"testing"

	"github.com/wikirender/render-orchestrator/internal/templatestore"
)

func TestBuildAppliesBaseHeaders(t *testing.T) {
	cfg := Config{UserAgent: "test-agent/1.0", AcceptLanguage: "en-US"}
	url, headers := Build("en.wikipedia.org", "Go (programming language)", Desktop, cfg, templatestore.Template{})

	wantURL := "https://en.wikipedia.org/wiki/Go%20%28programming%20language%29"
	if url != wantURL {
		t.Errorf("Build() url = %q, want %q", url, wantURL)
	}
	if headers["User-Agent"] != cfg.UserAgent {
		t.Errorf("User-Agent = %q, want %q", headers["User-Agent"], cfg.UserAgent)
	}
	if headers["Accept-Language"] != cfg.AcceptLanguage {
		t.Errorf("Accept-Language = %q, want %q", headers["Accept-Language"], cfg.AcceptLanguage)
	}
}

func TestBuildAppliesDomainOverrides(t *testing.T) {
	cfg := Config{UserAgent: "test-agent/1.0", AcceptLanguage: "en-US"}
	tmpl := templatestore.Template{HeaderOverrides: map[string]string{"X-Custom": "yes", "User-Agent": "override/2.0"}}

	_, headers := Build("en.wikipedia.org", "Go", Mobile, cfg, tmpl)

	if headers["X-Custom"] != "yes" {
		t.Errorf("expected domain override header to be present, got %q", headers["X-Custom"])
	}
	if headers["User-Agent"] != "override/2.0" {
		t.Errorf("expected domain override to win over base config, got %q", headers["User-Agent"])
	}
}

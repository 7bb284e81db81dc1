// Package urltemplate maps a (domain, title, device type) request
// into a concrete article URL and HTTP header set for the renderer,
// applying any per-domain overrides from the template store (spec.md §1's
// "URL templating" external collaborator, given a concrete shape here).
package urltemplate

import (
	"net/url"

	"github.com/wikirender/render-orchestrator/internal/templatestore"
)

// DeviceType selects the emulated viewport (spec.md §6 "type").
type DeviceType string

const (
	Desktop DeviceType = "desktop"
	Mobile  DeviceType = "mobile"
)

// Config carries the base values applied before any per-domain override.
type Config struct {
	UserAgent      string
	AcceptLanguage string
}

// Build renders the article URL and header set for a request. headers
// contains a "Host" entry only if a domain override supplies one; the
// renderer strips it regardless (spec.md §4.7).
func Build(domain, title string, device DeviceType, cfg Config, tmpl templatestore.Template) (string, map[string]string) {
	articleURL := "https://" + domain + "/wiki/" + url.PathEscape(title)

	headers := map[string]string{
		"User-Agent":      cfg.UserAgent,
		"Accept-Language": cfg.AcceptLanguage,
	}
	for name, value := range tmpl.HeaderOverrides {
		headers[name] = value
	}

	return articleURL, headers
}

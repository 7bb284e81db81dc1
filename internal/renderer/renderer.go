// Package renderer owns the per-job headless-browser subprocess that
// turns a wiki article URL into a PDF.
//
// # Subprocess lifetime
//
// Each Renderer owns exactly one browser subprocess for exactly one job
// (spec.md §4.7, §5 "Resource policy"). The subprocess is a chromedp
// exec-allocator context: chromedp spawns Chromium via os/exec under the
// hood, which gives AbortRender a concrete process to force-kill — the
// same zombie-prevention shape as the teacher's ProcessRunner.Execute
// (context.WithTimeout racing cmd.Process.Kill()).
package renderer

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/wikirender/render-orchestrator/internal/taxonomy"
)

// CloseTimeoutMs is the default hard timeout for a graceful browser close
// before AbortRender escalates to a force-kill (spec.md §4.7).
const CloseTimeoutMs = 3000

// DeviceProfile describes the emulated viewport + user agent for a
// device type (spec.md §4.7 "mobile or desktop viewport+user-agent").
type DeviceProfile struct {
	Width     int64
	Height    int64
	UserAgent string
	Mobile    bool
}

var (
	DesktopProfile = DeviceProfile{Width: 1280, Height: 1696, UserAgent: "", Mobile: false}
	MobileProfile  = DeviceProfile{Width: 411, Height: 823, UserAgent: "", Mobile: true}
)

// PageFormat is one of the three paper sizes spec.md §6 allows.
type PageFormat string

const (
	FormatLetter PageFormat = "letter"
	FormatA4     PageFormat = "a4"
	FormatLegal  PageFormat = "legal"
)

// paperDimensions returns the PDF paper width/height in inches.
func paperDimensions(format PageFormat) (width, height float64) {
	switch format {
	case FormatA4:
		return 8.27, 11.69
	case FormatLegal:
		return 8.5, 14
	default:
		return 8.5, 11
	}
}

// PdfResult is the successful output of ArticleToPdf (spec.md §3).
type PdfResult struct {
	Buffer       []byte
	LastModified string
}

// Config holds the launch-time knobs consumed by every Renderer
// constructed from it (spec.md §6 "Configuration knobs").
type Config struct {
	LaunchFlags   []string
	UserAgent     string
	DenyListRegex *regexp.Regexp
	CloseTimeout  time.Duration
}

// Renderer is a per-job handle around one browser subprocess. Never
// reused across jobs; two calls to ArticleToPdf on the same Renderer are
// not supported.
type Renderer struct {
	cfg Config

	// mu guards allocCtx/allocCancel/browserCtx/aborted: ArticleToPdf runs
	// in the queue's advance-spawned Process goroutine, AbortRender runs
	// in the queue's teardown-spawned Cancel goroutine, and nothing
	// upstream orders those two goroutines against each other.
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	aborted     bool

	// closeFunc performs the graceful browser close. Defaults to
	// chromedp.Cancel; overridden in tests to simulate a close that never
	// returns, exercising the force-kill path without a real browser.
	closeFunc func(context.Context) error
}

// New constructs an idle Renderer. The browser subprocess is not spawned
// until ArticleToPdf is called.
func New(cfg Config) *Renderer {
	return &Renderer{cfg: cfg, closeFunc: chromedp.Cancel}
}

// allowed implements spec.md §4.7's allow-rule: scheme in
// {http, https, data}, no user-info component, host not matching the
// configured deny regex.
func (r *Renderer) allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "data":
	default:
		return false
	}
	if u.User != nil {
		return false
	}
	if r.cfg.DenyListRegex != nil && r.cfg.DenyListRegex.MatchString(strings.ToLower(u.Hostname())) {
		return false
	}
	return true
}

// ArticleToPdf launches the subprocess, navigates to url with headers
// applied, and generates a PDF once the page reaches network-idle
// (spec.md §4.7).
func (r *Renderer) ArticleToPdf(ctx context.Context, rawURL string, format PageFormat, device DeviceProfile, headers http.Header) (PdfResult, error) {
	if !r.allowed(rawURL) {
		u, _ := url.Parse(rawURL)
		host := ""
		if u != nil {
			host = u.Hostname()
		}
		return PdfResult{}, &taxonomy.ForbiddenHost{Host: host}
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, flag := range r.cfg.LaunchFlags {
		opts = append(opts, chromedp.Flags(flag, true))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, _ := chromedp.NewContext(allocCtx)

	r.mu.Lock()
	r.allocCtx = allocCtx
	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.mu.Unlock()

	var nav navigationOutcome

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx,
				page.SetLifecycleEventsEnabled(true),
				network.Enable(),
			)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return applyDeviceProfile(ctx, device)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return installRequestInterception(ctx, r.allowed, headers)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			outcome, err := navigateAwaitingNetworkIdle(ctx, rawURL)
			if err != nil {
				return err
			}
			nav = outcome
			return nil
		}),
	}

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		if r.wasAborted() {
			// spec.md §4.7: a rejection after abort is silently absorbed.
			return PdfResult{}, &taxonomy.ProcessingCancelled{}
		}
		return PdfResult{}, &taxonomy.InternalFailure{Cause: err}
	}

	if !nav.haveResponse {
		return PdfResult{}, &taxonomy.MalformedRendererResponse{}
	}
	if nav.status >= 400 {
		return PdfResult{}, &taxonomy.NavigationError{Code: int(nav.status), Message: nav.statusText}
	}

	width, height := paperDimensions(format)
	var buf []byte
	printAction := chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(width).
			WithPaperHeight(height).
			WithPrintBackground(true).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := chromedp.Run(browserCtx, printAction); err != nil {
		if r.wasAborted() {
			return PdfResult{}, &taxonomy.ProcessingCancelled{}
		}
		return PdfResult{}, &taxonomy.InternalFailure{Cause: err}
	}

	lastModified := nav.lastModified
	if lastModified == "" {
		lastModified = time.Now().UTC().Format(http.TimeFormat)
	}

	return PdfResult{Buffer: buf, LastModified: lastModified}, nil
}

// wasAborted reports whether AbortRender has been called, under lock.
func (r *Renderer) wasAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// AbortRender forces the browser subprocess closed, gracefully if
// possible within CloseTimeout, otherwise by sending a kill signal
// (spec.md §4.7, §5 "The close-timeout guard plus force-kill").
func (r *Renderer) AbortRender() {
	r.mu.Lock()
	r.aborted = true
	allocCancel := r.allocCancel
	browserCtx := r.browserCtx
	r.mu.Unlock()

	if allocCancel == nil {
		return
	}

	closeTimeout := r.cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = CloseTimeoutMs * time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		if browserCtx != nil {
			_ = r.closeFunc(browserCtx)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		// Graceful close did not complete in time: force-kill the
		// subprocess. Errors here are swallowed — they are races where
		// the process already exited (spec.md §7).
		allocCancel()
	}
}


package renderer

import (
	"context"
	"net/http"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// forbiddenHeader is stripped from every outbound request, per spec.md
// §4.7 ("strips the forbidden host header, sets all other headers").
const forbiddenHeader = "host"

// applyDeviceProfile sets the emulated viewport, user agent, and disables
// in-page script execution (spec.md §4.7: "so lazy resources are not
// deferred").
func applyDeviceProfile(ctx context.Context, device DeviceProfile) error {
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(device.Width, device.Height, 1, device.Mobile),
		emulation.SetScriptExecutionDisabled(true),
	}
	if device.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(device.UserAgent))
	}
	return chromedp.Run(ctx, actions...)
}

// installRequestInterception applies the allow-rule to every sub-resource
// request, denying disallowed hosts with an access-denied code, and sets
// the configured headers (minus the forbidden "host" header) on every
// allowed request (spec.md §4.7).
func installRequestInterception(ctx context.Context, allowed func(string) bool, headers http.Header) error {
	headerEntries := make([]*fetch.HeaderEntry, 0, len(headers))
	for name, values := range headers {
		if strings.EqualFold(name, forbiddenHeader) {
			continue
		}
		for _, v := range values {
			headerEntries = append(headerEntries, &fetch.HeaderEntry{Name: name, Value: v})
		}
	}

	// Listener must be registered before fetch.Enable below: once the
	// Fetch domain is enabled, any paused request needs a handler already
	// in place to avoid being stuck with no ContinueRequest/FailRequest.
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			if !allowed(paused.Request.URL) {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonAccessDenied).Do(ctx)
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).
				WithHeaders(headerEntries).
				Do(ctx)
		}()
	})

	return fetch.Enable().Do(ctx)
}

// navigationOutcome carries what ArticleToPdf needs from navigation:
// whether a response object arrived, its status/status text, and the
// response's Last-Modified header if it sent one.
type navigationOutcome struct {
	haveResponse bool
	status       int64
	statusText   string
	lastModified string
}

// navigateAwaitingNetworkIdle navigates to url and waits for the
// networkIdle lifecycle event (spec.md's "navigates to the URL awaiting
// network-idle"), capturing the main-frame response.
func navigateAwaitingNetworkIdle(ctx context.Context, targetURL string) (navigationOutcome, error) {
	var outcome navigationOutcome

	idle := make(chan struct{}, 1)

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			// The first document response after Navigate is the main
			// frame's: it arrives before the frame commits, and iframe
			// documents are only requested once the main document parses.
			if e.Type == network.ResourceTypeDocument && !outcome.haveResponse {
				outcome.haveResponse = true
				outcome.status = e.Response.Status
				outcome.statusText = e.Response.StatusText
				for name, lm := range e.Response.Headers {
					if s, ok := lm.(string); ok && strings.EqualFold(name, "Last-Modified") {
						outcome.lastModified = s
					}
				}
			}
		case *page.EventLifecycleEvent:
			if e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(ctx, chromedp.Navigate(targetURL)); err != nil {
		return outcome, err
	}

	select {
	case <-idle:
	case <-ctx.Done():
		return outcome, ctx.Err()
	}

	return outcome, nil
}

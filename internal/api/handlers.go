// Package api wires inbound HTTP requests into the render queue and
// translates taxonomy errors back into the HTTP responses of spec.md §6.
package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wikirender/render-orchestrator/internal/prober"
	"github.com/wikirender/render-orchestrator/internal/queue"
	"github.com/wikirender/render-orchestrator/internal/renderer"
	"github.com/wikirender/render-orchestrator/internal/taxonomy"
	"github.com/wikirender/render-orchestrator/internal/templatestore"
	"github.com/wikirender/render-orchestrator/internal/urltemplate"
)

// Handler holds every dependency request glue needs to turn an inbound
// request into a queue.Item and translate the outcome back to HTTP.
type Handler struct {
	Queue      *queue.Queue[renderer.PdfResult]
	Prober     *prober.Client
	Templates  *templatestore.Store
	URLConfig  urltemplate.Config
	RenderCfg  func(denyList *regexp.Regexp) renderer.Config
	QueueTimeoutMs int64
	Log        *zap.Logger
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(q *queue.Queue[renderer.PdfResult], p *prober.Client, ts *templatestore.Store, urlCfg urltemplate.Config, renderCfg func(*regexp.Regexp) renderer.Config, queueTimeoutMs int64, log *zap.Logger) *Handler {
	return &Handler{
		Queue:          q,
		Prober:         p,
		Templates:      ts,
		URLConfig:      urlCfg,
		RenderCfg:      renderCfg,
		QueueTimeoutMs: queueTimeoutMs,
		Log:            log,
	}
}

// RegisterRoutes mounts the render endpoints on r (spec.md §6).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{domain}/v1/pdf/{title}/{format}", h.HandlePdf)
	r.Get("/{domain}/v1/pdf/{title}/{format}/{type}", h.HandlePdf)
	r.Get("/health", h.HandleHealth)
}

var validFormats = map[string]renderer.PageFormat{
	"letter": renderer.FormatLetter,
	"a4":     renderer.FormatA4,
	"legal":  renderer.FormatLegal,
}

// HandlePdf serves GET /{domain}/v1/pdf/{title}/{format}[/{type}].
func (h *Handler) HandlePdf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain := chi.URLParam(r, "domain")
	title := chi.URLParam(r, "title")
	formatParam := chi.URLParam(r, "format")
	typeParam := chi.URLParam(r, "type")
	if typeParam == "" {
		typeParam = "desktop"
	}

	format, ok := validFormats[strings.ToLower(formatParam)]
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidFormat", "invalid page format", fmt.Sprintf("format must be one of letter, a4, legal; got %q", formatParam), h.Log)
		return
	}

	var device urltemplate.DeviceType
	var deviceProfile renderer.DeviceProfile
	switch strings.ToLower(typeParam) {
	case "mobile":
		device = urltemplate.Mobile
		deviceProfile = renderer.MobileProfile
	case "desktop":
		device = urltemplate.Desktop
		deviceProfile = renderer.DesktopProfile
	default:
		writeError(w, http.StatusBadRequest, "InvalidDeviceType", "invalid device type", fmt.Sprintf("type must be one of mobile, desktop; got %q", typeParam), h.Log)
		return
	}

	exists, err := h.Prober.Exists(ctx, domain, title)
	if err != nil {
		h.Log.Warn("prober failed", zap.String("domain", domain), zap.String("title", title), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ProbeFailed", "failed to verify article existence", "", h.Log)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "NotFound", "article not found", fmt.Sprintf("Article '%s' not found", title), h.Log)
		return
	}

	tmpl, err := h.Templates.ForDomain(ctx, domain)
	if err != nil {
		h.Log.Warn("template lookup failed", zap.String("domain", domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "TemplateLookupFailed", "failed to load domain template", "", h.Log)
		return
	}

	articleURL, headerMap := urltemplate.Build(domain, title, device, h.URLConfig, tmpl)
	headers := http.Header{}
	for name, value := range headerMap {
		headers.Set(name, value)
	}

	var denyList *regexp.Regexp
	if tmpl.DenylistPattern != "" {
		denyList, err = regexp.Compile(tmpl.DenylistPattern)
		if err != nil {
			h.Log.Warn("invalid deny-list pattern for domain", zap.String("domain", domain), zap.Error(err))
			denyList = nil
		}
	}

	jobID := uuid.New().String()
	rend := renderer.New(h.RenderCfg(denyList))

	item := queue.NewItem[renderer.PdfResult](jobID,
		func() (renderer.PdfResult, error) {
			return rend.ArticleToPdf(context.Background(), articleURL, format, deviceProfile, headers)
		},
		func() {
			rend.AbortRender()
		},
	)

	future := h.Queue.Submit(item)

	select {
	case <-ctx.Done():
		future.Cancel()
		<-future.Done()
		return
	case result := <-future.Done():
		h.writeResult(w, title, result)
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, title string, result queue.Result[renderer.PdfResult]) {
	if result.Err == nil {
		pdf := result.Value
		filename := percentEncodeFilename(title)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(
			`attachment; filename="%s.pdf"; filename*=UTF-8''%s.pdf`, filename, filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(pdf.Buffer)))
		w.Header().Set("Last-Modified", pdf.LastModified)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf.Buffer)
		return
	}

	err := result.Err
	if taxonomy.IsCancellation(err) {
		// spec.md §6: connection closed, empty body. The handler has
		// already returned by the time this would be reached via the
		// ctx.Done() branch, but a genuinely concurrent cancellation
		// settlement lands here too; treat it identically.
		return
	}

	status := taxonomy.HTTPStatus(err)
	switch e := err.(type) {
	case *taxonomy.QueueFull:
		w.Header().Set("Retry-After", strconv.Itoa(taxonomy.RetryAfterSeconds(h.QueueTimeoutMs)))
		writeError(w, status, "QueueFull", "server is at capacity", e.Error(), h.Log)
	case *taxonomy.QueueTimeout:
		w.Header().Set("Retry-After", strconv.Itoa(taxonomy.RetryAfterSeconds(h.QueueTimeoutMs)))
		writeError(w, status, "QueueTimeout", "request timed out waiting in queue", e.Error(), h.Log)
	case *taxonomy.JobTimeout:
		w.Header().Set("Retry-After", strconv.Itoa(taxonomy.RetryAfterSeconds(h.QueueTimeoutMs)))
		writeError(w, status, "JobTimeout", "render exceeded its execution budget", e.Error(), h.Log)
	case *taxonomy.NavigationError:
		if e.Code == http.StatusNotFound {
			writeError(w, status, "NotFound", "article not found", fmt.Sprintf("Article '%s' not found", title), h.Log)
		} else {
			writeError(w, status, "NavigationError", "upstream page returned an error", e.Error(), h.Log)
		}
	default:
		writeError(w, status, "InternalFailure", "render failed", "", h.Log)
	}
}

// percentEncodeFilename applies spec.md §6's Content-Disposition
// percent-encoding: A-Z a-z 0-9 - _ . ! ~ * ' ( ) pass through unescaped,
// every other byte becomes %HH. This is a narrower, hand-rolled set than
// any stdlib escaper produces directly (net/url.PathEscape escapes
// several of these characters and leaves others that this rule does not
// want untouched), so it is implemented by hand rather than reused.
func percentEncodeFilename(s string) string {
	const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.!~*'()"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Waiting int    `json:"waiting"`
	Running int    `json:"running"`
}

// HandleHealth reports queue occupancy so operators can distinguish a
// healthy-but-saturated instance from a stuck one.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Waiting: h.Queue.CountWaiting(),
		Running: h.Queue.CountRunning(),
	}, h.Log)
}

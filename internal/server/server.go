package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"smartrust/internal/board"
	"smartrust/internal/engine"
	"smartrust/internal/generation"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

// Config for the HTTP API handler.
type Config struct {
	Engine        engine.Engine
	Identity      identity.Service
	BasePath      string
	AllowDevLogin bool
	Log           *zap.Logger
}

const (
	severityInfo        = "info"
	severityDestructive = "destructive"
)

type apiErrorBody struct {
	Code    string         `json:"code" example:"quota_exceeded"`
	Message string         `json:"message" example:"You have reached the limit of free contract generations."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"title\":\"Free limit reached\",\"severity\":\"destructive\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SmarTrust API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Identity))
	hcfg := huma.DefaultConfig("SmarTrust API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Identity, cfg.AllowDevLogin)
	registerGeneration(group, cfg.Engine)
	registerWizards(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerBoards(group, cfg.Engine)
	registerInvites(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath, cfg.AllowDevLogin)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("took", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// notice builds an error whose details carry the toast title and severity
// shown to the user.
func notice(status int, code, title, message, severity string, extra map[string]any) huma.StatusError {
	details := map[string]any{"title": title, "severity": severity}
	for k, v := range extra {
		details[k] = v
	}
	return newAPIError(status, code, message, details)
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		return notice(http.StatusBadRequest, "validation_failed", "Missing information", verr.Message, severityInfo, map[string]any{"field": verr.Field})
	}
	var cooldown *identity.CooldownError
	if errors.As(err, &cooldown) {
		return notice(http.StatusTooManyRequests, "otp_cooldown", "Too many requests", "Please wait before requesting a new OTP.", severityInfo,
			map[string]any{"retry_after_seconds": int(cooldown.RetryAfter.Round(time.Second).Seconds())})
	}
	var perr *board.PersistenceError
	if errors.As(err, &perr) {
		extra := map[string]any{"resynced": perr.Resynced}
		if perr.Resynced {
			extra["lanes"] = perr.Lanes
		}
		return notice(http.StatusServiceUnavailable, "persistence_failed", "Could not save", "Your change could not be saved. The board was reloaded.", severityDestructive, extra)
	}
	var gerr *generation.Error
	switch {
	case errors.Is(err, generation.ErrNotConfigured):
		return notice(http.StatusServiceUnavailable, "generation_unavailable", "Generation unavailable", "Contract generation is not configured on this server.", severityDestructive, nil)
	case errors.As(err, &gerr):
		return notice(http.StatusBadGateway, "generation_failed", "Generation failed", "Failed to generate. Please try again.", severityDestructive, map[string]any{"step": gerr.Op})
	case errors.Is(err, wizard.ErrQuotaExceeded):
		return notice(http.StatusTooManyRequests, "quota_exceeded", "Free limit reached", "You have used all free contract generations. Please sign in to continue.", severityDestructive, nil)
	case errors.Is(err, engine.ErrUnauthenticated):
		return notice(http.StatusUnauthorized, "sign_in_required", "Sign in required", "Please sign in to continue.", severityInfo, nil)
	case errors.Is(err, engine.ErrGenerationInFlight):
		return notice(http.StatusConflict, "generation_in_flight", "Please wait", "A generation request is already running for this wizard.", severityInfo, nil)
	case errors.Is(err, engine.ErrDuplicateContract):
		return notice(http.StatusConflict, "duplicate_contract", "Duplicate contract", "A contract with this identifier already exists. Please try again.", severityDestructive, nil)
	case errors.Is(err, engine.ErrMissingReference):
		return notice(http.StatusUnprocessableEntity, "missing_reference", "Missing data", "Some required data is missing. Please complete all required fields.", severityDestructive, nil)
	case errors.Is(err, engine.ErrNoDraft):
		return notice(http.StatusBadRequest, "validation_failed", "No contract yet", "Generate a contract before saving it.", severityInfo, nil)
	case errors.Is(err, identity.ErrOTPExpired):
		return notice(http.StatusBadRequest, "otp_expired", "Code expired", "The OTP has expired. Please request a new one.", severityDestructive, nil)
	case errors.Is(err, identity.ErrOTPInvalid):
		return notice(http.StatusBadRequest, "otp_invalid", "Invalid code", "The code is invalid or was already used.", severityDestructive, nil)
	case errors.Is(err, identity.ErrInvalidEmail):
		return notice(http.StatusBadRequest, "bad_request", "Invalid email", err.Error(), severityInfo, nil)
	case errors.Is(err, identity.ErrInvalidToken):
		return notice(http.StatusUnauthorized, "invalid_credentials", "Sign in required", "invalid credentials", severityInfo, nil)
	case errors.Is(err, identity.ErrNotConfigured):
		return notice(http.StatusServiceUnavailable, "auth_unavailable", "Sign in unavailable", "Sign in is not configured on this server.", severityDestructive, nil)
	case errors.Is(err, board.ErrStaleMove):
		return notice(http.StatusConflict, "stale_move", "Board changed", err.Error(), severityInfo, nil)
	case errors.Is(err, board.ErrInvalidMove), errors.Is(err, board.ErrEmptyLabel):
		return notice(http.StatusBadRequest, "bad_request", "Invalid request", err.Error(), severityInfo, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrDuplicate):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "request cancelled", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, devLogin bool) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			if !devLogin {
				delete(oas.Paths, path.Join(basePath, "auth/dev/login"))
			}
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
		{},
	}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if publicRoute(basePath, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>SmarTrust API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Sign in through /auth/otp and /auth/verify, then send Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

// clientKey identifies an anonymous caller for the free generation quota.
func clientKey(ctx context.Context) string {
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

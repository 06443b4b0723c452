package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
)

const (
	maxBodyBytes   = 1 << 20
	profileMessage = "You are authorized. This is a protected route"
	indexMessage   = "authgate API is running..."
)

// Handler serves the JSON API over an engine.
type Handler struct {
	engine  *authgate.Engine
	logger  *slog.Logger
	anyKind bool
	gate    func(http.Handler) http.Handler
	openapi []byte
	metrics http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithAnyKindGate lets protected routes accept refresh tokens too.
func WithAnyKindGate() Option {
	return func(h *Handler) { h.anyKind = true }
}

// WithMetricsHandler mounts handler at GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(h *Handler) { h.metrics = handler }
}

// New builds a Handler. It fails only if the embedded OpenAPI document is
// invalid.
func New(engine *authgate.Engine, opts ...Option) (*Handler, error) {
	h := &Handler{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.anyKind {
		h.gate = middleware.RequireAnyKind(engine, middleware.WithLogger(h.logger))
	} else {
		h.gate = middleware.RequireAuth(engine, middleware.WithLogger(h.logger))
	}

	doc, err := openAPIJSON()
	if err != nil {
		return nil, err
	}
	h.openapi = doc
	return h, nil
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api-docs/openapi.json", h.openAPI)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.Handle("GET /protected/profile", h.gate(http.HandlerFunc(h.profile)))
	mux.Handle("POST /logout", h.gate(http.HandlerFunc(h.logout)))

	return withRequestContext(mux)
}

// withRequestContext copies the client address and user agent into the
// request context for audit events.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authgate.WithClientIP(r.Context(), clientIP(r))
		ctx = authgate.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body into dst and validates it. A false return means a
// 400 was already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst validatable) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) {
			h.logger.DebugContext(r.Context(), "malformed request body", "path", r.URL.Path, "error", err)
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})
		return false
	}
	if err := dst.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest + ": " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, indexMessage)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.openapi)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.engine.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User registered successfully"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Subject: claims.Subject, Message: profileMessage})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	if err := h.engine.Logout(r.Context(), claims.Subject); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/budgetguard/internal/observability"
	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// ActorHeader carries the authenticated user id set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

const idempotencyHeader = "Idempotency-Key"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the API middleware chain. Order matters: the
// principal is resolved after rate limiting so rejected floods never reach it.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	c := cfg.Config
	if c == nil {
		c = &Config{}
	}
	timeout := c.AppRequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		securityHeaders(c).Handler,
		corsPolicy(c),
	}
	if c.RateLimitPerMinute > 0 {
		stack = append(stack, httprate.Limit(c.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP, keyByActor),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
			})))
	}
	stack = append(stack, PrincipalMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// securityHeaders locks the JSON API down; nothing here is meant to be framed or rendered.
func securityHeaders(c *Config) *secure.Secure {
	prod := c.IsProduction()
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           prod,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            stsSeconds(prod),
		IsDevelopment:         !prod,
	})
}

func stsSeconds(prod bool) int64 {
	if prod {
		return 31536000
	}
	return 0
}

func corsPolicy(c *Config) func(http.Handler) http.Handler {
	origins := c.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader, idempotencyHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	})
}

// keyByActor splits the per-IP budget between callers behind the same gateway.
func keyByActor(r *http.Request) (string, error) {
	return strings.TrimSpace(r.Header.Get(ActorHeader)), nil
}

// PrincipalMiddleware places the caller named by X-Actor-ID into the request
// context. A missing header leaves the request anonymous; a malformed one is rejected.
func PrincipalMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(ActorHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				if logger != nil {
					logger.Warn("invalid actor header", slog.String("value", raw))
				}
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+ActorHeader+" header")
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{ActorID: id})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

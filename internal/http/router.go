// Package httpapi wires the HTTP transport (Gin) to the engine, middleware
// and route handlers. Two surfaces share one engine:
//
//   - the Matrix application service API, pushed to by the homeserver and
//     authenticated with its token
//   - the read-only room API under the configured base path, rate limited
//     and compressed
//
// plus /health, /ready, /metrics and the Swagger UI for the read API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/social-credit/docs"
	"github.com/tbourn/social-credit/internal/config"
	"github.com/tbourn/social-credit/internal/http/handlers"
	"github.com/tbourn/social-credit/internal/http/middleware"
)

const (
	// homeservers batch up to a few hundred events per transaction
	maxTransactionBytes = 16 << 20
	maxAPIBytes         = 1 << 20

	txnCacheTTL  = time.Hour
	txnCacheSize = 10000
)

// Deps are the services the routes call into.
type Deps struct {
	Engine handlers.EventHandler
	Scores handlers.ScoreService
	Emojis handlers.EmojiService
	// Ready reports storage health for /ready; nil means always ready.
	Ready func(ctx context.Context) error
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access logs with tokens and user ids scrubbed
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and security headers
//
// then per group: body limits, homeserver auth and transaction replay for
// the appservice API; body limit, rate limiting and gzip for the read API.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskQuery: []string{"user_id"},
	}))
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("not ready")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := handlers.New(deps.Engine, deps.Scores, deps.Emojis, cfg.Matrix.BotTag())

	// Application service API. The unprefixed transactions path is the
	// pre-r0 route some homeservers still call.
	txns := middleware.NewTxnCache(txnCacheTTL, txnCacheSize)
	guard := middleware.TxnGuard(middleware.TxnOptions{}, txns)
	as := r.Group("", limitBody(maxTransactionBytes), middleware.RequireHSToken(cfg.Matrix.HSToken))
	{
		as.PUT("/_matrix/app/v1/transactions/:txnId", guard, h.PushTransaction)
		as.PUT("/transactions/:txnId", guard, h.PushTransaction)
		as.GET("/_matrix/app/v1/users/:userId", h.QueryUser)
		as.GET("/_matrix/app/v1/rooms/:roomAlias", h.QueryRoom)
		as.POST("/_matrix/app/v1/ping", h.Ping)
	}

	// Read API
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(limitBody(maxAPIBytes), rl.Handler(), gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/rooms/:roomID/scores", h.GetScores)
		api.GET("/rooms/:roomID/emojis", h.GetEmojis)
	}
}

// useCORS installs the CORS posture: allow every origin when none is
// configured, otherwise echo allowlisted origins. The API is read-only, so
// only GET and OPTIONS are advertised.
func useCORS(r *gin.Engine, origins []string) {
	base := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Accept", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		// ACAO: * even without an Origin header, for simple health checks.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	base.AllowOrigins = origins
	r.Use(cors.New(base))
}

// limitBody caps the request body at maxBytes; larger bodies fail to read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

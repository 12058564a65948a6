// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies; homeserver pushes carry chat content and are left to the engine's
// own event logs.
//
// Scrubbing:
//   - sensitive headers (Authorization, Cookie, Set-Cookie, plus custom) are
//     replaced with "[REDACTED]"
//   - sensitive query parameters (access_token, plus custom) likewise
//   - Matrix user ids and email addresses elsewhere in the query and header
//     values are pattern-redacted
package middleware

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// RedactOptions configures additional scrub behavior for RedactingLogger.
// Matching is case-insensitive; entries are merged with the built-ins.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

var (
	// "@localpart:server" with an optional port.
	matrixUserRE = regexp.MustCompile(`@[a-zA-Z0-9._=\-/+]+:[a-zA-Z0-9.\-]+(?::\d+)?`)
	emailRE      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// redactValue scrubs identifiers from a free-form value. Emails go first so
// the user id pattern does not eat their domain.
func redactValue(s string) string {
	if s == "" {
		return s
	}
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return matrixUserRE.ReplaceAllString(s, "[REDACTED:user]")
}

func lowerSet(builtin []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(builtin)+len(extra))
	for _, k := range append(builtin, extra...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

// redactQuery masks listed parameters and scrubs the rest. Unparseable
// queries are scrubbed as a whole.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return raw
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return redactValue(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range vals[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			if _, ok := mask[strings.ToLower(k)]; ok {
				b.WriteString(redacted)
			} else {
				b.WriteString(redactValue(v))
			}
		}
	}
	return b.String()
}

// RedactingLogger logs each request after it completes, at info, warn for
// 4xx and error for 5xx. It also attaches a request-scoped logger carrying
// request_id, method and path for LoggerFrom.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskQuery := lowerSet([]string{"access_token"}, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskQuery), maxQueryLogLength)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = redacted
				continue
			}
			safeHeaders[k] = redactValue(strings.Join(vv, ", "))
		}

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}
		scoped := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = scoped.Error()
		case status >= 400:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "1":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// requestLogLevel lets a caller raise or lower logging for one request with
// ?log= or the X-Log-Level header.
func requestLogLevel(r *http.Request, def LogLevel) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return def
}

// requestLogger logs each request at the level resolved for it. Server
// errors are logged at every level except off.
func requestLogger(log zerolog.Logger, def LogLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lvl := requestLogLevel(r, def)
			if lvl == LevelOff {
				next.ServeHTTP(w, r)
				return
			}
			rid := middleware.GetReqID(r.Context())
			if lvl >= LevelDebug {
				log.Debug().Str("request_id", rid).Str("method", r.Method).Str("path", r.URL.Path).Msg("request start")
			}
			sr, ok := w.(*statusRecorder)
			if !ok {
				sr = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			}
			start := time.Now()
			next.ServeHTTP(sr, r)
			if lvl < LevelInfo && sr.status < 500 {
				return
			}
			ev := log.Info()
			if sr.status >= 500 {
				ev = log.Error()
			}
			ev.Str("request_id", rid).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("dur", time.Since(start)).
				Msg("request end")
		})
	}
}

package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatsync/internal/chat"
)

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware rejects requests without a valid token and stores the
// caller on the request context.
func (s *GoChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := tokenFromRequest(r)
		if err != nil {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Debug().Err(err).Msg("failed to extract user id from token")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := s.svc.GetUser(r.Context(), userId)
		if err != nil {
			errResp := NewChatError(err)
			if chat.Kind(err) != chat.KindInternal {
				errResp = NewUnauthorizedError()
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUser(r.Context(), user.Summary())
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// accessLog logs one line per request.
func (s *GoChatApp) accessLog(next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		s.log.Info().
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("size", p.Size).
			Dur("latency", time.Since(p.TimeStamp)).
			Str("remote_addr", p.Request.RemoteAddr).
			Msg("request")
	})
}

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func Logging(log waLog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				log.Infof("[%s] %s %s %d %s", id, r.Method, r.URL.Path, status, time.Since(start))
				return
			}
			log.Infof("%s %s %d %s", r.Method, r.URL.Path, status, time.Since(start))
		})
	}
}

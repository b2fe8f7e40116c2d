package http

import (
	"encoding/json"
	stdhttp "net/http"
	"os"
	"sync"

	"github.com/faeln1/membersync/internal/app/controllers"
	"github.com/faeln1/membersync/internal/platform/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	waLog "go.mau.fi/whatsmeow/util/log"
	yaml "gopkg.in/yaml.v3"
)

const defaultDocsPath = "docs/openapi.yaml"

type RouterConfig struct {
	WebhookCtrl   *controllers.WebhookController
	DirectoryCtrl *controllers.DirectoryController
	HealthCtrl    *controllers.HealthController
	Logger        waLog.Logger
	SwaggerEnable bool
	DocsPath      string
	MasterToken   string
}

func NewRouter(cfg RouterConfig) stdhttp.Handler {
	if cfg.Logger == nil {
		cfg.Logger = waLog.Noop
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.Logging(cfg.Logger))

	r.Get("/", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"name":    "membersync",
			"version": "0.1.0",
			"endpoints": map[string]string{
				"webhook":       "POST /webhook",
				"directory":     "GET /directory/{tenantId}",
				"members":       "GET /members/{tenantId|auto}",
				"health":        "/health",
				"metrics":       "/metrics",
				"documentation": "/docs",
			},
		})
	})
	r.NotFound(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		writeStatus(w, stdhttp.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		writeStatus(w, stdhttp.StatusMethodNotAllowed, "method not allowed")
	})

	if cfg.HealthCtrl != nil {
		r.Get("/health", cfg.HealthCtrl.Health)
		r.Get("/ready", cfg.HealthCtrl.Ready)
	}
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	if cfg.SwaggerEnable {
		mountDocs(r, cfg.DocsPath)
	}

	if cfg.WebhookCtrl != nil {
		r.Post("/webhook", cfg.WebhookCtrl.Receive)
		// Some senders append the event name to the configured URL.
		r.Post("/webhook/{event}", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			cfg.WebhookCtrl.ReceiveEvent(w, r, chi.URLParam(r, "event"))
		})

		r.Group(func(r chi.Router) {
			if cfg.MasterToken != "" {
				r.Use(middleware.BearerAuth(middleware.StaticToken(cfg.MasterToken)))
			}
			r.Get("/webhook/deliveries", cfg.WebhookCtrl.Deliveries)
		})
	}

	if ctrl := cfg.DirectoryCtrl; ctrl != nil {
		r.Route("/directory/{tenantID}", func(r chi.Router) {
			r.Get("/", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
				ctrl.Directory(w, r, chi.URLParam(r, "tenantID"))
			})
			r.Get("/stats", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
				ctrl.Stats(w, r, chi.URLParam(r, "tenantID"))
			})
			r.Get("/export.xlsx", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
				ctrl.Export(w, r, chi.URLParam(r, "tenantID"))
			})
			r.Get("/qr.png", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
				ctrl.QR(w, r, chi.URLParam(r, "tenantID"))
			})
		})
		r.Get("/members/{tenantID}", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			ctrl.Members(w, r, chi.URLParam(r, "tenantID"))
		})
		r.Get("/tenants/{tenantID}", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			ctrl.Tenant(w, r, chi.URLParam(r, "tenantID"))
		})
	}

	return r
}

func mountDocs(r chi.Router, path string) {
	if path == "" {
		path = defaultDocsPath
	}
	var (
		once     sync.Once
		yamlData []byte
		yamlErr  error
	)
	loadYAML := func() ([]byte, error) {
		once.Do(func() { yamlData, yamlErr = os.ReadFile(path) })
		return yamlData, yamlErr
	}
	r.Get("/openapi.yaml", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		data, err := loadYAML()
		if err != nil {
			w.WriteHeader(stdhttp.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.Write(data)
	})
	r.Get("/openapi.json", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		data, err := loadYAML()
		if err != nil {
			w.WriteHeader(stdhttp.StatusNotFound)
			return
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			w.WriteHeader(stdhttp.StatusInternalServerError)
			return
		}
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			w.WriteHeader(stdhttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonBytes)
	})
	r.Get("/docs", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		// Simple Swagger UI (CDN)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html><html><head><title>API Docs</title><link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/></head><body><div id="swagger-ui"></div><script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script><script>window.onload=()=>{SwaggerUIBundle({url:'/openapi.yaml',dom_id:'#swagger-ui'});};</script></body></html>`))
	})
}

func writeStatus(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

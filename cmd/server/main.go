package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faeln1/membersync/internal/app/controllers"
	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/app/services"
	"github.com/faeln1/membersync/internal/config"
	"github.com/faeln1/membersync/internal/platform/database"
	httpPlatform "github.com/faeln1/membersync/internal/platform/http"
	"github.com/faeln1/membersync/internal/rules"
	"github.com/faeln1/membersync/pkg/eventlog"
	"github.com/faeln1/membersync/pkg/logger"
	"github.com/faeln1/membersync/pkg/platformapi"
	storagepkg "github.com/faeln1/membersync/pkg/storage"
	minioStorage "github.com/faeln1/membersync/pkg/storage/minio"
	"github.com/faeln1/membersync/pkg/webhooksig"
	"github.com/joho/godotenv"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type stores struct {
	members    repositories.MemberRepository
	tenants    repositories.TenantRepository
	deliveries repositories.DeliveryRepository
	close      func() error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg := config.MustLoad()
	loggers := logger.New(cfg.LogLevel, cfg.LogFormat)
	appLog := loggers.App

	appLog.Infof("configuration: env=%s driver=%s", cfg.Env, cfg.DBDriver)

	st, err := openStores(context.Background(), cfg, appLog.Sub("DB"))
	if err != nil {
		log.Fatalf("database initialization error: %v", err)
	}
	if st.close != nil {
		defer func() {
			if err := st.close(); err != nil {
				log.Printf("error closing database: %v", err)
			}
		}()
	}

	ruleProvider, stopRules := loadRules(cfg.Rules, appLog.Sub("Rules"))
	defer stopRules()

	var objectStorage storagepkg.Service
	if cfg.Storage.Enabled() {
		store, err := minioStorage.New(context.Background(), minioStorage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
			PublicURL: cfg.Storage.PublicURL,
			Prefix:    cfg.Storage.Prefix,
		})
		if err != nil {
			log.Fatalf("storage initialization error: %v", err)
		}
		objectStorage = store
		appLog.Infof("webhook archive enabled bucket=%s endpoint=%s", cfg.Storage.Bucket, cfg.Storage.Endpoint)
	}

	var verifier services.SignatureVerifier
	if cfg.Webhook.Secret != "" {
		v, err := webhooksig.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
		if err != nil {
			log.Fatalf("webhook secret error: %v", err)
		}
		verifier = v
	} else {
		appLog.Warnf("WEBHOOK_SECRET not set; accepting unsigned webhooks")
	}

	var engineOpts []services.EngineOption
	if cfg.Platform.Enabled() {
		client := platformapi.New(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout)
		engineOpts = append(engineOpts, services.WithEnricher(client, cfg.Platform.Timeout))
		appLog.Infof("platform enrichment enabled url=%s", cfg.Platform.BaseURL)
	}

	var forwarder services.MemberEventsDispatcher
	if cfg.MemberEvents.URL != "" {
		forwarder = services.NewMemberEventsDispatcher(cfg.MemberEvents.URL, cfg.MemberEvents.Token, cfg.MemberEvents.Secret, cfg.MemberEvents.Timeout, appLog.Sub("MemberEvents"))
		appLog.Infof("member events forwarding enabled url=%s", cfg.MemberEvents.URL)
	}

	resolver := services.NewTenantResolver(ruleProvider, st.tenants, appLog.Sub("Tenant"))
	engine := services.NewMembershipEngine(st.members, st.tenants, ruleProvider, appLog.Sub("Engine"), engineOpts...)
	webhookSvc := services.NewWebhookService(services.WebhookDeps{
		Verifier:   verifier,
		Rules:      ruleProvider,
		Resolver:   resolver,
		Engine:     engine,
		Tenants:    st.tenants,
		Deliveries: st.deliveries,
		Events:     eventlog.NewWriter(cfg.EventLogDir, appLog.Sub("EventLog")),
		Archive:    objectStorage,
		Forwarder:  forwarder,
	}, appLog.Sub("Webhook"))
	directorySvc := services.NewDirectoryService(st.members, st.tenants, resolver, cfg.PublicBaseURL, appLog.Sub("Directory"))

	router := httpPlatform.NewRouter(httpPlatform.RouterConfig{
		WebhookCtrl:   controllers.NewWebhookController(webhookSvc, cfg.MaxBodyBytes, appLog.Sub("WebhookHTTP")),
		DirectoryCtrl: controllers.NewDirectoryController(directorySvc),
		HealthCtrl:    controllers.NewHealthController(st.tenants),
		Logger:        loggers.HTTP,
		SwaggerEnable: cfg.SwaggerEnable,
		DocsPath:      cfg.DocsPath,
		MasterToken:   cfg.MasterToken,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	appLog.Infof("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Errorf("shutdown error: %v", err)
	}
}

func openStores(ctx context.Context, cfg *config.AppConfig, log waLog.Logger) (*stores, error) {
	if cfg.DBDriver == config.DriverMemory {
		log.Warnf("using in-memory repositories; data is lost on restart")
		return &stores{
			members:    repositories.NewInMemoryMemberRepo(),
			tenants:    repositories.NewInMemoryTenantRepo(),
			deliveries: repositories.NewInMemoryDeliveryRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("%s schema up to date", db.Dialect)
	return &stores{
		members:    repositories.NewSQLMemberRepo(db.SQL),
		tenants:    repositories.NewGormTenantRepo(db.Gorm),
		deliveries: repositories.NewGormDeliveryRepo(db.Gorm),
		close:      db.Close,
	}, nil
}

// loadRules returns the rule provider: a hot-reloaded file when RULES_FILE is
// set, the embedded defaults otherwise.
func loadRules(cfg config.RulesConfig, log waLog.Logger) (rules.Provider, func()) {
	if cfg.File == "" {
		return rules.Static(rules.MustDefault()), func() {}
	}
	loader, err := rules.NewLoader(cfg.File, log)
	if err != nil {
		log.Errorf("failed to load rules: %v", err)
		os.Exit(1)
	}
	if !cfg.Watch {
		return loader, func() {}
	}
	stop, err := loader.Watch()
	if err != nil {
		log.Warnf("rules hot reload disabled: %v", err)
		return loader, func() {}
	}
	loader.OnChange(func(set *rules.Set) {
		log.Infof("rules active: %d kind fields, %d referer patterns", len(set.KindFields), len(set.RefererPatterns))
	})
	return loader, stop
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	alarmapp "fleetguardian/internal/alarms/application"
	alarms "fleetguardian/internal/alarms/domain"
	alarmrepo "fleetguardian/internal/alarms/infrastructure/postgres"
	alarminterfaces "fleetguardian/internal/alarms/interfaces"
	alarmhttp "fleetguardian/internal/alarms/interfaces/http"
	alarmnotify "fleetguardian/internal/alarms/notify"
	"fleetguardian/internal/audit"
	"fleetguardian/internal/auth"
	deviceshttp "fleetguardian/internal/devices/interfaces/http"
	"fleetguardian/internal/eventing"
	eventingrepo "fleetguardian/internal/eventing/infrastructure/postgres"
	"fleetguardian/internal/geo"
	intentsapp "fleetguardian/internal/intents/application"
	intentevents "fleetguardian/internal/intents/application/events"
	"fleetguardian/internal/intents/interfaces/broadcast"
	intentshttp "fleetguardian/internal/intents/interfaces/http"
	"fleetguardian/internal/logging"
	mediarepo "fleetguardian/internal/media/infrastructure/postgres"
	mediahttp "fleetguardian/internal/media/interfaces/http"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/relay"
	reportshttp "fleetguardian/internal/reports/interfaces/http"
	telemetryevents "fleetguardian/internal/telemetry/application/events"
	"fleetguardian/internal/telemetry/interfaces/feed"
	telemetryhttp "fleetguardian/internal/telemetry/interfaces/http"
	"fleetguardian/internal/telemetry/interfaces/ingest"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, loadConfig())
		},
	}
}

func runServe(ctx context.Context, cfg config) error {
	logger := logging.NewWithService("fleetguardian-serve")
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	metrics.Init(db, logger)

	broadcaster, closeBroadcaster, err := openBroadcaster(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroadcaster()

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(intentevents.IntentIssued{})
	registry.Register(intentevents.SOSAcknowledged{})
	registry.Register(telemetryevents.LocationRecorded{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewOutboxPublisher(outboxStore, baseBus, logger)
	auditRepo := audit.NewRepository(db)

	geoClient := newGeoClient(cfg)
	resolverOpts := []geo.ResolverOption{geo.WithTimeout(cfg.GeocodeTimeout), geo.WithResolverLogger(logger)}
	resolver := geo.NewResolver(nil, resolverOpts...)
	if geoClient != nil {
		resolver = geo.NewResolver(geoClient, resolverOpts...)
	}

	st, err := newStores(db, cfg, logger,
		intentsapp.WithLocator(resolver),
		intentsapp.WithEventPublisher(publisher),
	)
	if err != nil {
		return err
	}

	broadcastConsumer, err := broadcast.NewConsumer(broadcaster, logger)
	if err != nil {
		return err
	}
	broadcastConsumer.Register(baseBus, processedStore)

	rules, err := alarms.LoadRules(cfg.AlarmRulesFile)
	if err != nil {
		return err
	}
	alarmService, err := alarmapp.NewService(rules, alarmrepo.NewAlertStateRepository(db), st.intentSvc, alarmapp.WithLogger(logger))
	if err != nil {
		return err
	}
	locationConsumer, err := alarminterfaces.NewLocationRecordedConsumer(alarmService)
	if err != nil {
		return err
	}
	locationConsumer.Register(baseBus, processedStore)

	plateOf := func(ctx context.Context, deviceID string) string {
		device, err := st.devices.Get(ctx, deviceID)
		if err != nil || device == nil {
			return ""
		}
		return device.PlateNumber
	}
	alertBroker := alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.AlertNotifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			return err
		}
		tpl, err := alarmnotify.NewTemplate(cfg.AlertTemplate)
		if err != nil {
			return err
		}
		webhook, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithCooldown(cfg.AlertCooldown),
			alarmnotify.WithDedupeWindow(cfg.AlertDedupeWindow),
			alarmnotify.WithRequestTimeout(cfg.AlertTimeout),
			alarmnotify.WithDeviceNamer(plateOf),
			alarmnotify.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, webhook)
	}
	alertConsumer, err := alarminterfaces.NewAlertConsumer(alarmnotify.NewMultiNotifier(notifiers...))
	if err != nil {
		return err
	}
	alertConsumer.Register(baseBus, processedStore)

	intentHandler, err := intentshttp.NewHandler(st.intentSvc, auditRepo)
	if err != nil {
		return err
	}
	deviceHandler, err := deviceshttp.NewHandler(st.deviceSvc, st.intentSvc, auditRepo)
	if err != nil {
		return err
	}
	historyHandler, err := telemetryhttp.NewHistoryHandler(st.locations, st.deviceSvc)
	if err != nil {
		return err
	}
	exportHandler, err := reportshttp.NewExportHandler(st.locations, st.deviceSvc, plateOf, logger)
	if err != nil {
		return err
	}
	mediaRepo, err := mediarepo.NewMediaRepository(db)
	if err != nil {
		return err
	}
	mediaHandler, err := mediahttp.NewListHandler(mediaRepo, st.deviceSvc)
	if err != nil {
		return err
	}
	locationFeed, err := feed.NewPublisher(broadcaster)
	if err != nil {
		return err
	}
	ingestHandler, err := ingest.NewHandler(st.locations, publisher, logger, ingest.WithFeed(locationFeed))
	if err != nil {
		return err
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/telemetry/ingest"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/intents", intentHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", deviceHandler.ServeDecommission)
	mux.HandleFunc("POST /api/v1/devices/{id}/sos/ack", deviceHandler.ServeSOSAck)
	mux.Handle("GET /api/v1/devices/{id}/locations", historyHandler)
	mux.Handle("GET /api/v1/devices/{id}/locations/export", exportHandler)
	mux.Handle("GET /api/v1/devices/{id}/media", mediaHandler)
	mux.Handle("GET /api/v1/alerts/stream", alarmhttp.NewStreamHandler(alertBroker))
	mux.Handle("GET /api/v1/locations/stream", feed.NewStreamHandler(broadcaster, logger))
	mux.Handle("/ws/live", relay.NewLiveHandler(broadcaster, logger))
	if geoClient != nil {
		mux.Handle("GET /api/v1/route", geo.NewRouteHandler(geoClient))
	}
	if cfg.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestSkew)
		mux.Handle("/api/v1/telemetry/ingest", ingestAuth.Wrap(ingestHandler))
	} else {
		logger.Warn("INGEST_SECRET not set: telemetry ingest disabled")
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx, cfg.OutboxDispatchInterval, cfg.OutboxBatchSize, logger)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := processedStore.Prune(gctx, eventingrepo.DefaultProcessedRetention)
				if err != nil {
					logger.WithError(err).Warn("processed events prune failed")
					continue
				}
				if n > 0 {
					logger.WithField("rows", n).Info("processed events pruned")
				}
			}
		}
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

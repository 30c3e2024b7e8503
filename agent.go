package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetguardian/internal/agent"
	alarmapp "fleetguardian/internal/alarms/application"
	alarms "fleetguardian/internal/alarms/domain"
	"fleetguardian/internal/auth"
	deviceapp "fleetguardian/internal/devices/application"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/media"
	mediarepo "fleetguardian/internal/media/infrastructure/postgres"
	"fleetguardian/internal/media/infrastructure/s3store"
	"fleetguardian/internal/relay"
	"fleetguardian/internal/sensors"
	"fleetguardian/internal/telemetry/interfaces/feed"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the field agent on a vehicle unit",
		Long: "Run the field agent: link to the vehicle by plate, listen for intents and drive the " +
			"camera relay, snapshots and location tracking. SIGUSR1 raises an SOS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, loadConfig())
		},
	}
}

func runAgent(ctx context.Context, cfg config) error {
	logger := logging.NewWithService("fleetguardian-agent")
	tenant, err := cfg.Agent.tenant()
	if err != nil {
		return err
	}
	if cfg.Agent.WebcamURL == "" {
		return errors.New("AGENT_WEBCAM_URL is required")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := newStores(db, cfg, logger)
	if err != nil {
		return err
	}
	link, err := resolveLink(ctx, cfg.Agent, tenant, st.deviceSvc, false, logger)
	if err != nil {
		return err
	}

	broadcaster, closeBroadcaster, err := openBroadcaster(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroadcaster()

	webcam, err := sensors.NewIPWebcam(cfg.Agent.WebcamURL)
	if err != nil {
		return err
	}
	var objects media.ObjectStore
	if cfg.S3.Bucket != "" {
		store, err := s3store.New(ctx, cfg.S3, logger)
		if err != nil {
			return err
		}
		objects = store
	} else {
		logger.Warn("S3_BUCKET not set: snapshots disabled")
	}
	mediaRepo, err := mediarepo.NewMediaRepository(db)
	if err != nil {
		return err
	}

	locationFeed, err := feed.NewPublisher(broadcaster)
	if err != nil {
		return err
	}

	rules, err := alarms.LoadRules(cfg.AlarmRulesFile)
	if err != nil {
		return err
	}
	alerts, err := alarmapp.NewService(rules, alarms.NewMemoryStateStore(), st.intentSvc, alarmapp.WithLogger(logger))
	if err != nil {
		return err
	}

	unit, err := agent.New(agent.Config{
		Tenant: tenant,
		Relay: relay.Config{
			FrameInterval: cfg.Agent.FrameInterval,
			AudioInterval: cfg.Agent.AudioInterval,
		},
		TrackInterval: cfg.Agent.TrackInterval,
		AutoTrack:     cfg.Agent.AutoTrack,
	}, agent.Dependencies{
		Broadcaster: broadcaster,
		Camera:      webcam.Camera(),
		Microphone:  webcam.Microphone(),
		Location:    webcam,
		Battery:     webcam,
		ObjectStore: objects,
		Media:       mediaRepo,
		Samples:     st.locations,
		Feed:        locationFeed,
		Devices:     st.deviceSvc,
		Alerts:      alerts,
		Intents:     st.intentSvc,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := unit.Link(ctx, link.DeviceID); err != nil {
		return err
	}
	logger.WithFields(logging.Fields{
		"device_id": link.DeviceID,
		"plate":     link.Plate,
	}).Info("agent linked")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Run also returns on KILL_APP; the sentinel takes the SOS loop down.
		if err := unit.Run(gctx); err != nil {
			return err
		}
		return errAgentStopped
	})
	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGUSR1)
		defer signal.Stop(sigs)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigs:
				sosCtx, cancel := context.WithTimeout(gctx, 10*time.Second)
				if _, err := unit.RaiseSOS(sosCtx, "panic button"); err != nil {
					logger.WithError(err).Error("sos not sent")
				}
				cancel()
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errAgentStopped) {
		return err
	}
	return nil
}

var errAgentStopped = errors.New("agent stopped")

// resolveLink returns the cached link for tenant, or links by plate and
// caches the result. force skips the cache.
func resolveLink(ctx context.Context, cfg agentConfig, tenant auth.Tenant, devices *deviceapp.Service, force bool, logger logging.Logger) (agent.LinkRecord, error) {
	if !force {
		rec, err := agent.LoadLinkRecord(cfg.StateFile)
		if err != nil {
			logger.WithError(err).Warn("link state unreadable: relinking")
		}
		if rec != nil && tenant.Owns(rec.OrganizationID, rec.BranchID) {
			return *rec, nil
		}
	}
	if cfg.Plate == "" {
		return agent.LinkRecord{}, errors.New("no cached link: set AGENT_PLATE or run `fleetguardian link`")
	}
	device, err := devices.LinkByPlate(ctx, tenant, cfg.Plate)
	if err != nil {
		return agent.LinkRecord{}, fmt.Errorf("link by plate: %w", err)
	}
	rec := agent.LinkRecord{
		DeviceID:       device.ID,
		Plate:          device.PlateNumber,
		OrganizationID: tenant.OrganizationID,
		BranchID:       tenant.BranchID,
		LinkedAt:       time.Now().UTC(),
	}
	if err := agent.SaveLinkRecord(cfg.StateFile, rec); err != nil {
		logger.WithError(err).Warn("link state not cached")
	}
	return rec, nil
}

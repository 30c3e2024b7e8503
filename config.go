package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/media/infrastructure/s3store"
)

type config struct {
	DatabaseURL            string
	RedisURL               string
	HTTPAddr               string
	JWTSecret              string
	IngestSecret           string
	IngestSkew             time.Duration
	S3                     s3store.Config
	GeocoderURL            string
	RouterURL              string
	GeocodeTimeout         time.Duration
	AlarmRulesFile         string
	AlertWebhookURL        string
	AlertTemplate          string
	AlertCooldown          time.Duration
	AlertDedupeWindow      time.Duration
	AlertTimeout           time.Duration
	OutboxDispatchInterval time.Duration
	OutboxBatchSize        int
	MovingThresholdKmh     float64
	Agent                  agentConfig
}

type agentConfig struct {
	WebcamURL      string
	StateFile      string
	Plate          string
	OrganizationID string
	BranchID       string
	FrameInterval  time.Duration
	AudioInterval  time.Duration
	TrackInterval  time.Duration
	AutoTrack      bool
}

// loadEnv reads .env and then .env.dev, each overriding what came before.
func loadEnv(logger *logrus.Logger) {
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			logger.WithError(err).Warnf("failed to load %s", file)
		}
	}
}

func loadConfig() config {
	return config{
		DatabaseURL:  getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RedisURL:     getenvDefault("REDIS_URL", ""),
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:    getenvDefault("JWT_SECRET", ""),
		IngestSecret: getenvDefault("INGEST_SECRET", ""),
		IngestSkew:   getenvDuration("INGEST_MAX_SKEW", 5*time.Minute),
		S3: s3store.Config{
			Bucket:        getenvDefault("S3_BUCKET", ""),
			Region:        getenvDefault("S3_REGION", "us-east-1"),
			Endpoint:      getenvDefault("S3_ENDPOINT", ""),
			AccessKey:     getenvDefault("S3_ACCESS_KEY", ""),
			SecretKey:     getenvDefault("S3_SECRET_KEY", ""),
			PublicBaseURL: getenvDefault("S3_PUBLIC_BASE_URL", ""),
		},
		GeocoderURL:            getenvDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		RouterURL:              getenvDefault("ROUTER_URL", "https://router.project-osrm.org"),
		GeocodeTimeout:         getenvDuration("GEOCODE_TIMEOUT", 3*time.Second),
		AlarmRulesFile:         getenvDefault("ALARM_RULES_FILE", ""),
		AlertWebhookURL:        getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertTemplate:          getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertCooldown:          getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertDedupeWindow:      getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		AlertTimeout:           getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		OutboxDispatchInterval: getenvDuration("OUTBOX_DISPATCH_INTERVAL", time.Second),
		OutboxBatchSize:        getenvIntDefault("OUTBOX_BATCH_SIZE", 100),
		MovingThresholdKmh:     getenvFloatDefault("MOVING_THRESHOLD_KMH", 5),
		Agent: agentConfig{
			WebcamURL:      getenvDefault("AGENT_WEBCAM_URL", ""),
			StateFile:      getenvDefault("AGENT_STATE_FILE", "fleetguardian-agent.yaml"),
			Plate:          getenvDefault("AGENT_PLATE", ""),
			OrganizationID: getenvDefault("AGENT_ORG_ID", ""),
			BranchID:       getenvDefault("AGENT_BRANCH_ID", ""),
			FrameInterval:  getenvDuration("FRAME_INTERVAL", 600*time.Millisecond),
			AudioInterval:  getenvDuration("AUDIO_INTERVAL", time.Second),
			TrackInterval:  getenvDuration("TRACK_INTERVAL", 10*time.Second),
			AutoTrack:      getenvBool("AGENT_AUTO_TRACK", true),
		},
	}
}

func (c config) requireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL or PG_DSN is required")
	}
	return nil
}

func (c agentConfig) tenant() (auth.Tenant, error) {
	if c.OrganizationID == "" || c.BranchID == "" {
		return auth.Tenant{}, errors.New("AGENT_ORG_ID and AGENT_BRANCH_ID are required")
	}
	return auth.NewTenant(c.OrganizationID, c.BranchID)
}

func getenvDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

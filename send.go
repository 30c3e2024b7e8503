package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/geo"
	"fleetguardian/internal/identifier"
	intentsapp "fleetguardian/internal/intents/application"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
)

type sendOptions struct {
	orgID          string
	branchID       string
	target         string
	kind           string
	payload        string
	idempotencyKey string
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Write one intent for a device",
		Example: "  fleetguardian send --target 3f2b8c1e-9a4d-4e6f-8b2a-1c3d5e7f9a0b --kind START_LIVE_FEED\n" +
			"  fleetguardian send --target 3f2b8c1e-9a4d-4e6f-8b2a-1c3d5e7f9a0b --kind DIM_SCREEN --payload '{\"level\":0.2}'",
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := runSend(cmd.Context(), loadConfig(), *opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(intent)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.orgID, "org", getenvDefault("AGENT_ORG_ID", ""), "organization id")
	flags.StringVar(&opts.branchID, "branch", getenvDefault("AGENT_BRANCH_ID", ""), "branch id")
	flags.StringVar(&opts.target, "target", "", "device identifier")
	flags.StringVar(&opts.kind, "kind", "", "intent kind, e.g. CAPTURE_REQUEST")
	flags.StringVar(&opts.payload, "payload", "", "JSON payload")
	flags.StringVar(&opts.idempotencyKey, "idempotency-key", "", "deduplicate retries of this send")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// runSend validates locally first so a malformed request never opens the
// database.
func runSend(ctx context.Context, cfg config, opts sendOptions) (*intents.Intent, error) {
	tenant, err := auth.NewTenant(opts.orgID, opts.branchID)
	if err != nil {
		return nil, err
	}
	target, err := identifier.Parse(opts.target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", intentsapp.ErrInvalidTarget, err)
	}
	kind := intents.Kind(opts.kind)
	var payload json.RawMessage
	if opts.payload != "" {
		if !json.Valid([]byte(opts.payload)) {
			return nil, errors.New("payload is not valid JSON")
		}
		payload = json.RawMessage(opts.payload)
	}
	if _, err := intents.DecodePayload(kind, payload); err != nil {
		return nil, err
	}

	logger := logging.NewWithService("fleetguardian-send")
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var locator intentsapp.Locator = geo.NewResolver(nil)
	if client := newGeoClient(cfg); client != nil {
		locator = geo.NewResolver(client, geo.WithTimeout(cfg.GeocodeTimeout), geo.WithResolverLogger(logger))
	}
	st, err := newStores(db, cfg, logger, intentsapp.WithLocator(locator))
	if err != nil {
		return nil, err
	}
	return st.intentSvc.Send(auth.WithTenant(ctx, tenant), intentsapp.SendRequest{
		Target:         target,
		Kind:           kind,
		Payload:        payload,
		IdempotencyKey: opts.idempotencyKey,
	})
}

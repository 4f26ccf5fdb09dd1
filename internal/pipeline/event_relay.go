package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/notify"
)

// eventEnvelope is the minimal shape shared by every settlement event,
// decoded just far enough to route and summarize it.
type eventEnvelope struct {
	Event       string `json:"event"`
	ClaimID     string `json:"claim_id"`
	Owner       string `json:"owner"`
	Result      *bool  `json:"result"`
	Reason      string `json:"reason"`
	Fingerprint string `json:"fingerprint"`
	Amount      int64  `json:"amount"`
	Payout      int64  `json:"payout"`
	Refund      int64  `json:"refund"`
}

// EventRelay subscribes to the settlement pub/sub channel and forwards
// events to the operator notification channels. Event filtering happens
// inside the Notifier, so the relay forwards everything it can decode.
type EventRelay struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewEventRelay creates a new EventRelay.
func NewEventRelay(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// Run consumes events until the context is cancelled. A closed subscription
// channel is treated as a fatal bus error so the supervisor can restart the
// relay.
func (r *EventRelay) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return fmt.Errorf("event relay: subscribe: %w", err)
	}

	r.logger.Info("event relay started", slog.String("channel", domain.EventsChannel))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopped")
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("event relay: subscription channel closed")
			}
			r.handle(ctx, payload)
		}
	}
}

func (r *EventRelay) handle(ctx context.Context, payload []byte) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("undecodable event payload", slog.String("error", err.Error()))
		return
	}
	if env.Event == "" {
		return
	}

	title, message := summarize(env)
	if err := r.notifier.Notify(ctx, env.Event, title, message); err != nil {
		r.logger.Warn("notification dispatch failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
	}
}

// summarize renders a human-readable title and body for a settlement event.
func summarize(env eventEnvelope) (title, message string) {
	switch env.Event {
	case domain.EventClaimCreated:
		return "Claim created", fmt.Sprintf("Claim %s opened for staking", env.ClaimID)
	case domain.EventResolutionRequested:
		return "Resolution requested", fmt.Sprintf("Claim %s passed its deadline and awaits an attested result", env.ClaimID)
	case domain.EventClaimResolved:
		outcome := "NO"
		if env.Result != nil && *env.Result {
			outcome = "YES"
		}
		return "Claim resolved", fmt.Sprintf("Claim %s resolved %s", env.ClaimID, outcome)
	case domain.EventClaimCancelled:
		return "Claim cancelled", fmt.Sprintf("Claim %s cancelled: %s", env.ClaimID, env.Reason)
	case domain.EventStakePlaced:
		return "Stake placed", fmt.Sprintf("%s staked %d on claim %s", env.Owner, env.Amount, env.ClaimID)
	case domain.EventWinningsClaimed:
		return "Winnings claimed", fmt.Sprintf("%s collected %d from claim %s", env.Owner, env.Payout, env.ClaimID)
	case domain.EventRefundClaimed:
		return "Refund claimed", fmt.Sprintf("%s refunded %d from claim %s", env.Owner, env.Refund, env.ClaimID)
	case domain.EventMeasurementWhitelisted:
		return "Resolver whitelisted", fmt.Sprintf("Measurement %s authorized", env.Fingerprint)
	case domain.EventMeasurementRevoked:
		return "Resolver revoked", fmt.Sprintf("Measurement %s deactivated", env.Fingerprint)
	default:
		return env.Event, fmt.Sprintf("Event %s on claim %s", env.Event, env.ClaimID)
	}
}

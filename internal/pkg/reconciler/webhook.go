package reconciler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/cache"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

// Webhook event types the payment provider sends.
const (
	EventInvoicePaid          = "invoice.paid"
	EventSubscriptionCanceled = "subscription.canceled"
)

const (
	seenKeyTTL = 24 * time.Hour

	// claimTTL bounds how long a crashed worker keeps an event claimed
	// before a redelivery may take it over.
	claimTTL = 5 * time.Minute
)

// Event is one verified provider webhook, ready for ingestion. Signature
// verification happens at the HTTP boundary; by the time an Event reaches the
// ingestor it is authenticated.
type Event struct {
	Provider   string
	EventID    string
	Type       string
	UserID     uint
	RawPayload []byte
}

// Ingestor applies provider webhooks as subscription transitions, exactly
// once per (provider, event id) pair. Dedup is two-layered: a cache fast path
// and a unique constraint on the persisted event row; the row is the source
// of truth, the cache only saves round trips on hot redeliveries.
type Ingestor struct {
	exec     *subscription.Executor
	webhooks repository.WebhookEventRepository
	useCache bool
}

// NewIngestor wires an ingestor from its collaborators.
func NewIngestor(exec *subscription.Executor, webhooks repository.WebhookEventRepository) *Ingestor {
	return &Ingestor{exec: exec, webhooks: webhooks, useCache: true}
}

// DisableCache turns off the cache fast path. Intended for tests.
func (in *Ingestor) DisableCache() {
	in.useCache = false
}

// Ingest processes one webhook. A duplicate delivery is a silent no-op. The
// returned error means the event could not be settled and the provider
// should redeliver it.
func (in *Ingestor) Ingest(ctx context.Context, evt Event) error {
	seenKey := "webhook:seen:" + evt.Provider + ":" + evt.EventID
	if in.useCache {
		set, err := cache.SetNX(seenKey, 1, seenKeyTTL)
		if err != nil {
			// Cache down is not fatal, the DB constraint still dedups.
			log.Debugf("[Reconciler] Webhook dedup cache unavailable: %v", err)
		} else if !set {
			log.Debugf("[Reconciler] Duplicate webhook %s/%s (cache)", evt.Provider, evt.EventID)
			return nil
		}
	}

	row := &models.WebhookEvent{
		Provider:        evt.Provider,
		ProviderEventID: evt.EventID,
		EventType:       evt.Type,
		PayloadJSON:     string(evt.RawPayload),
		SignatureValid:  true,
	}
	created, existing, err := in.webhooks.CreateIfNotExists(row)
	if err != nil {
		in.forgetSeen(seenKey)
		return err
	}
	rowID := row.ID
	if !created {
		if existing.ProcessedAt != nil {
			log.Debugf("[Reconciler] Duplicate webhook %s/%s (id %d)", evt.Provider, evt.EventID, existing.ID)
			return nil
		}
		// Stored earlier but never settled (e.g. lock contention); the
		// redelivery gets another go at it.
		rowID = existing.ID
	}

	// The claim is the actual concurrency gate: two simultaneous deliveries
	// can both pass the insert race, but only one wins the conditional write.
	claimed, err := in.webhooks.TryClaim(rowID, time.Now(), claimTTL)
	if err != nil {
		in.forgetSeen(seenKey)
		return err
	}
	if !claimed {
		// Another worker is applying this event right now. If it fails it
		// releases the claim and its error drives the redelivery.
		log.Debugf("[Reconciler] Webhook %s/%s already in flight", evt.Provider, evt.EventID)
		return nil
	}

	if err := in.applyEvent(ctx, evt, rowID); err != nil {
		if rerr := in.webhooks.ReleaseClaim(rowID); rerr != nil {
			log.Errorf("[Reconciler] Failed to release webhook claim: %v", rerr)
		}
		in.forgetSeen(seenKey)
		return err
	}
	return nil
}

// applyEvent maps the event type to a transition and records the processing
// outcome on the stored row.
func (in *Ingestor) applyEvent(ctx context.Context, evt Event, rowID uint) error {
	var action subscription.Action
	switch evt.Type {
	case EventInvoicePaid:
		action = subscription.ActionRenewPeriod
	case EventSubscriptionCanceled:
		action = subscription.ActionCancel
	default:
		log.Debugf("[Reconciler] Ignoring webhook type %q", evt.Type)
		return in.webhooks.MarkProcessed(rowID, "ignored: unhandled event type")
	}

	_, err := in.exec.Execute(ctx, evt.UserID, subscription.Request{Action: action})
	if err == nil {
		return in.webhooks.MarkProcessed(rowID, "")
	}

	code := subscription.CodeOf(err)
	switch code {
	case subscription.CodeAlreadyCanceled, subscription.CodeNoSubscription:
		// The provider's view lagged ours; the state it wants already holds
		// (or the record is gone). Settle the event.
		return in.webhooks.MarkProcessed(rowID, "noop: "+string(code))
	case subscription.CodePendingDowngrade:
		// An invoice arrived for a period the user scheduled away from. The
		// sweep settles the pending change; the renewal itself is moot.
		return in.webhooks.MarkProcessed(rowID, "noop: "+string(code))
	case subscription.CodeProcessingChange:
		// Lock contention, let the provider redeliver.
		return err
	default:
		if merr := in.webhooks.MarkProcessed(rowID, err.Error()); merr != nil {
			log.Errorf("[Reconciler] Failed to record webhook error: %v", merr)
		}
		return err
	}
}

// forgetSeen drops the cache dedup key so a redelivery of a failed event is
// not swallowed by the fast path.
func (in *Ingestor) forgetSeen(seenKey string) {
	if !in.useCache {
		return
	}
	if err := cache.Delete(seenKey); err != nil {
		log.Debugf("[Reconciler] Failed to drop webhook dedup key: %v", err)
	}
}

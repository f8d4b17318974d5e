/**
 * @description
 * This file contains the external payment rail adapter. It normalizes
 * externally-confirmed payments — x402 crypto transfer confirmations and Stripe
 * card-network webhooks — into ledger-visible rail transactions and wallet credits.
 * Events arrive at-least-once and possibly out of order, so everything is keyed by the
 * external transaction hash: the repository only credits on the guarded
 * PENDING -> CONFIRMED transition, making replays harmless.
 *
 * @dependencies
 * - context, errors, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For downstream rail event publication.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
	"github.com/agentmesh/settlement-service/pkg/rabbitmq"
)

// Validation errors for webhook payloads.
var (
	ErrMissingTxHash      = errors.New("external transaction hash is required")
	ErrUnsupportedEvent   = errors.New("unsupported webhook event type")
	ErrMissingWalletOwner = errors.New("payment metadata names no wallet or owner to credit")
)

// RailRepository is the data access the rail adapter needs: rail upserts plus wallet
// lookup/creation for lazily provisioned seller wallets.
type RailRepository interface {
	store.RailStore
	store.WalletStore
}

// RailService ingests external payment rail confirmations.
type RailService struct {
	repo     RailRepository
	producer rabbitmq.Publisher
	exchange string
}

// NewRailService creates a new external rail adapter instance.
func NewRailService(repo RailRepository, producer rabbitmq.Publisher, exchange string) *RailService {
	return &RailService{repo: repo, producer: producer, exchange: exchange}
}

func (s *RailService) publish(ctx context.Context, routingKey string, body any) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, s.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=rail_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// HandleX402Event processes a single x402 facilitator webhook event. Unknown event
// types are acknowledged without effect so the facilitator does not retry forever.
func (s *RailService) HandleX402Event(ctx context.Context, event domain.X402WebhookEvent) (*domain.RailTransaction, error) {
	if strings.TrimSpace(event.Data.TxHash) == "" {
		return nil, ErrMissingTxHash
	}

	switch event.Event {
	case "payment.confirmed":
		return s.confirmX402Payment(ctx, event.Data)
	case "payment.failed":
		return s.repo.FailRailTransaction(ctx, event.Data.TxHash, event.Data.Network, event.Data.FailureReason)
	default:
		log.Printf("level=info component=rail_service msg=\"ignoring x402 event\" event=%s tx_hash=%s", event.Event, event.Data.TxHash)
		return nil, nil
	}
}

func (s *RailService) confirmX402Payment(ctx context.Context, data domain.X402PaymentData) (*domain.RailTransaction, error) {
	if data.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var sellerWalletID *uuid.UUID
	if data.SellerWalletID != nil {
		id, err := uuid.Parse(*data.SellerWalletID)
		if err != nil {
			return nil, ErrMissingWalletOwner
		}
		sellerWalletID = &id
	}

	var confirmedAt *time.Time
	if data.ConfirmedAt != nil {
		if parsed, err := time.Parse(time.RFC3339, *data.ConfirmedAt); err == nil {
			utc := parsed.UTC()
			confirmedAt = &utc
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(data.Currency))
	if currency == "" {
		currency = "USD"
	}

	credited, rail, err := s.repo.ConfirmRailTransaction(ctx, &domain.RailTransaction{
		TxHash:         data.TxHash,
		Network:        data.Network,
		BuyerAddress:   optionalString(data.BuyerAddress),
		SellerAddress:  optionalString(data.SellerAddress),
		SellerWalletID: sellerWalletID,
		Amount:         data.Amount,
		Currency:       currency,
		ConfirmedAt:    confirmedAt,
	})
	if err != nil {
		return nil, err
	}

	if credited && rail.SellerWalletID != nil {
		s.publish(ctx, domain.EventRailConfirmed, domain.WalletCreditedEvent{
			WalletID:  *rail.SellerWalletID,
			Amount:    rail.Amount,
			Currency:  rail.Currency,
			Network:   rail.Network,
			Reference: rail.TxHash,
			Timestamp: time.Now().UTC(),
		})
	}
	return rail, nil
}

// HandleStripePaymentEvent processes Stripe payment-intent webhooks. The wallet to
// credit travels in the intent metadata: either an explicit wallet_id, or an
// owner_type/owner_id pair for which a wallet is created lazily on first funding.
func (s *RailService) HandleStripePaymentEvent(ctx context.Context, event domain.StripeWebhookEvent) (*domain.RailTransaction, error) {
	intent := event.Data.Object
	if strings.TrimSpace(intent.ID) == "" {
		return nil, ErrMissingTxHash
	}

	switch event.Type {
	case "payment_intent.succeeded":
		walletID, err := s.resolveStripeWallet(ctx, intent)
		if err != nil {
			return nil, err
		}
		if intent.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		credited, rail, err := s.repo.ConfirmRailTransaction(ctx, &domain.RailTransaction{
			TxHash:         intent.ID,
			Network:        domain.RailNetworkStripe,
			SellerWalletID: &walletID,
			Amount:         intent.Amount,
			Currency:       strings.ToUpper(intent.Currency),
		})
		if err != nil {
			return nil, err
		}
		if credited {
			s.publish(ctx, domain.EventRailConfirmed, domain.WalletCreditedEvent{
				WalletID:  walletID,
				Amount:    rail.Amount,
				Currency:  rail.Currency,
				Network:   rail.Network,
				Reference: rail.TxHash,
				Timestamp: time.Now().UTC(),
			})
		}
		return rail, nil

	case "payment_intent.payment_failed":
		reason := intent.Metadata["failure_reason"]
		return s.repo.FailRailTransaction(ctx, intent.ID, domain.RailNetworkStripe, optionalString(reason))

	default:
		log.Printf("level=info component=rail_service msg=\"ignoring stripe event\" event=%s", event.Type)
		return nil, nil
	}
}

// resolveStripeWallet finds the wallet named by the intent metadata, creating it for
// the owner when this is the owner's first funding event.
func (s *RailService) resolveStripeWallet(ctx context.Context, intent domain.StripePaymentIntent) (uuid.UUID, error) {
	if raw, ok := intent.Metadata["wallet_id"]; ok && raw != "" {
		walletID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, ErrMissingWalletOwner
		}
		if _, err := s.repo.FindWalletByID(ctx, walletID); err != nil {
			return uuid.Nil, err
		}
		return walletID, nil
	}

	ownerType := intent.Metadata["owner_type"]
	rawOwnerID := intent.Metadata["owner_id"]
	if !validOwnerType(ownerType) || rawOwnerID == "" {
		return uuid.Nil, ErrMissingWalletOwner
	}
	ownerID, err := uuid.Parse(rawOwnerID)
	if err != nil {
		return uuid.Nil, ErrMissingWalletOwner
	}

	currency := strings.ToUpper(intent.Currency)
	if currency == "" {
		currency = "USD"
	}

	wallet, err := s.repo.FindWalletByOwner(ctx, ownerType, ownerID, currency)
	if err == nil {
		return wallet.ID, nil
	}
	if !errors.Is(err, store.ErrWalletNotFound) {
		return uuid.Nil, err
	}

	created, err := s.repo.CreateWallet(ctx, &domain.Wallet{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Currency:  currency,
		Status:    domain.WalletStatusActive,
	})
	if err != nil {
		if errors.Is(err, store.ErrWalletExists) {
			// Lost a create race; the winner's wallet is the one to credit.
			existing, findErr := s.repo.FindWalletByOwner(ctx, ownerType, ownerID, currency)
			if findErr != nil {
				return uuid.Nil, findErr
			}
			return existing.ID, nil
		}
		return uuid.Nil, err
	}
	return created.ID, nil
}

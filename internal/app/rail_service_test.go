package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/agentmesh/settlement-service/internal/domain"
	"github.com/agentmesh/settlement-service/internal/store"
)

type railRepoStub struct {
	store.Repository

	confirmCalled int
	credited      bool
	confirmedRail *domain.RailTransaction

	failCalled bool
	failReason *string

	walletsByOwner map[string]*domain.Wallet
	ownerLookups   int
	createdWallet  *domain.Wallet
	createErr      error
}

func (s *railRepoStub) ConfirmRailTransaction(ctx context.Context, rail *domain.RailTransaction) (bool, *domain.RailTransaction, error) {
	s.confirmCalled++
	confirmed := *rail
	confirmed.ID = uuid.New()
	confirmed.Status = domain.RailStatusConfirmed
	s.confirmedRail = &confirmed
	return s.credited, &confirmed, nil
}

func (s *railRepoStub) FailRailTransaction(ctx context.Context, txHash, network string, reason *string) (*domain.RailTransaction, error) {
	s.failCalled = true
	s.failReason = reason
	return &domain.RailTransaction{TxHash: txHash, Network: network, Status: domain.RailStatusFailed, FailureReason: reason}, nil
}

func (s *railRepoStub) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return &domain.Wallet{ID: walletID, Status: domain.WalletStatusActive}, nil
}

func (s *railRepoStub) FindWalletByOwner(ctx context.Context, ownerType string, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	s.ownerLookups++
	wallet, ok := s.walletsByOwner[ownerType+":"+ownerID.String()]
	if !ok || s.ownerLookups == 1 {
		// The first lookup always misses so lazy creation is exercised.
		return nil, store.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *railRepoStub) CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	created := *wallet
	created.ID = uuid.New()
	s.createdWallet = &created
	return &created, nil
}

func TestHandleX402Event_RequiresTxHash(t *testing.T) {
	repo := &railRepoStub{}
	service := NewRailService(repo, nil, "")

	_, err := service.HandleX402Event(context.Background(), domain.X402WebhookEvent{
		Event: "payment.confirmed",
		Data:  domain.X402PaymentData{Amount: 1000, Network: "base"},
	})
	if !errors.Is(err, ErrMissingTxHash) {
		t.Fatalf("expected ErrMissingTxHash, got %v", err)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no confirmation without a tx hash")
	}
}

func TestHandleX402Event_ConfirmedCreditPublishesEvent(t *testing.T) {
	walletID := uuid.New().String()
	repo := &railRepoStub{credited: true}
	publisher := &recordingPublisher{}
	service := NewRailService(repo, publisher, "agentmesh.events")

	rail, err := service.HandleX402Event(context.Background(), domain.X402WebhookEvent{
		Event: "payment.confirmed",
		Data: domain.X402PaymentData{
			TxHash:         "0xabc123",
			Network:        "base",
			SellerWalletID: &walletID,
			Amount:         75000,
			Currency:       "usd",
		},
	})
	if err != nil {
		t.Fatalf("HandleX402Event returned error: %v", err)
	}
	if rail.Status != domain.RailStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %q", rail.Status)
	}
	if rail.Currency != "USD" {
		t.Fatalf("expected currency normalized to USD, got %q", rail.Currency)
	}

	keys := publisher.routingKeys()
	if len(keys) != 1 || keys[0] != domain.EventRailConfirmed {
		t.Fatalf("expected one %s event, got %v", domain.EventRailConfirmed, keys)
	}
}

func TestHandleX402Event_ReplayDoesNotPublish(t *testing.T) {
	walletID := uuid.New().String()
	repo := &railRepoStub{credited: false}
	publisher := &recordingPublisher{}
	service := NewRailService(repo, publisher, "agentmesh.events")

	rail, err := service.HandleX402Event(context.Background(), domain.X402WebhookEvent{
		Event: "payment.confirmed",
		Data: domain.X402PaymentData{
			TxHash:         "0xabc123",
			Network:        "base",
			SellerWalletID: &walletID,
			Amount:         75000,
			Currency:       "USD",
		},
	})
	if err != nil {
		t.Fatalf("HandleX402Event returned error: %v", err)
	}
	if rail == nil {
		t.Fatal("expected the existing rail transaction back for a replay")
	}
	if len(publisher.routingKeys()) != 0 {
		t.Fatalf("expected no events for a replayed confirmation, got %v", publisher.routingKeys())
	}
}

func TestHandleX402Event_FailedRecordsReason(t *testing.T) {
	reason := "insufficient gas"
	repo := &railRepoStub{}
	service := NewRailService(repo, nil, "")

	rail, err := service.HandleX402Event(context.Background(), domain.X402WebhookEvent{
		Event: "payment.failed",
		Data: domain.X402PaymentData{
			TxHash:        "0xdead",
			Network:       "base",
			FailureReason: &reason,
		},
	})
	if err != nil {
		t.Fatalf("HandleX402Event returned error: %v", err)
	}
	if rail.Status != domain.RailStatusFailed {
		t.Fatalf("expected FAILED, got %q", rail.Status)
	}
	if repo.failReason == nil || *repo.failReason != reason {
		t.Fatalf("expected failure reason recorded, got %v", repo.failReason)
	}
}

func TestHandleX402Event_UnknownEventIsAcknowledged(t *testing.T) {
	repo := &railRepoStub{}
	service := NewRailService(repo, nil, "")

	rail, err := service.HandleX402Event(context.Background(), domain.X402WebhookEvent{
		Event: "payment.expired",
		Data:  domain.X402PaymentData{TxHash: "0xabc"},
	})
	if err != nil || rail != nil {
		t.Fatalf("expected unknown event to be ignored, got rail=%v err=%v", rail, err)
	}
	if repo.confirmCalled != 0 || repo.failCalled {
		t.Fatal("expected no repository writes for an unknown event")
	}
}

func TestHandleStripePaymentEvent_ResolvesWalletFromMetadata(t *testing.T) {
	repo := &railRepoStub{credited: true}
	publisher := &recordingPublisher{}
	service := NewRailService(repo, publisher, "agentmesh.events")

	walletID := uuid.New()
	rail, err := service.HandleStripePaymentEvent(context.Background(), domain.StripeWebhookEvent{
		Type: "payment_intent.succeeded",
		Data: domain.StripeWebhookPayload{Object: domain.StripePaymentIntent{
			ID:       "pi_123",
			Amount:   4200,
			Currency: "usd",
			Metadata: map[string]string{"wallet_id": walletID.String()},
		}},
	})
	if err != nil {
		t.Fatalf("HandleStripePaymentEvent returned error: %v", err)
	}
	if rail.Network != domain.RailNetworkStripe {
		t.Fatalf("expected stripe network, got %q", rail.Network)
	}
	if rail.SellerWalletID == nil || *rail.SellerWalletID != walletID {
		t.Fatalf("expected metadata wallet to be credited, got %v", rail.SellerWalletID)
	}
}

func TestHandleStripePaymentEvent_LazilyCreatesOwnerWallet(t *testing.T) {
	repo := &railRepoStub{credited: true}
	service := NewRailService(repo, nil, "")

	ownerID := uuid.New()
	_, err := service.HandleStripePaymentEvent(context.Background(), domain.StripeWebhookEvent{
		Type: "payment_intent.succeeded",
		Data: domain.StripeWebhookPayload{Object: domain.StripePaymentIntent{
			ID:       "pi_456",
			Amount:   9900,
			Currency: "usd",
			Metadata: map[string]string{"owner_type": domain.OwnerTypeAgent, "owner_id": ownerID.String()},
		}},
	})
	if err != nil {
		t.Fatalf("HandleStripePaymentEvent returned error: %v", err)
	}
	if repo.createdWallet == nil {
		t.Fatal("expected a wallet to be created for the owner")
	}
	if repo.createdWallet.OwnerType != domain.OwnerTypeAgent || repo.createdWallet.OwnerID != ownerID {
		t.Fatalf("expected wallet for agent %s, got %+v", ownerID, repo.createdWallet)
	}
}

func TestHandleStripePaymentEvent_CreateRaceFallsBackToWinner(t *testing.T) {
	ownerID := uuid.New()
	winner := &domain.Wallet{ID: uuid.New(), OwnerType: domain.OwnerTypeAgent, OwnerID: ownerID, Currency: "USD"}

	// First lookup misses, create loses the race, second lookup finds the winner.
	repo := &railRepoStub{
		credited:  true,
		createErr: store.ErrWalletExists,
		walletsByOwner: map[string]*domain.Wallet{
			domain.OwnerTypeAgent + ":" + ownerID.String(): winner,
		},
	}
	service := NewRailService(repo, nil, "")

	rail, err := service.HandleStripePaymentEvent(context.Background(), domain.StripeWebhookEvent{
		Type: "payment_intent.succeeded",
		Data: domain.StripeWebhookPayload{Object: domain.StripePaymentIntent{
			ID:       "pi_789",
			Amount:   1500,
			Currency: "usd",
			Metadata: map[string]string{"owner_type": domain.OwnerTypeAgent, "owner_id": ownerID.String()},
		}},
	})
	if err != nil {
		t.Fatalf("HandleStripePaymentEvent returned error: %v", err)
	}
	if rail.SellerWalletID == nil || *rail.SellerWalletID != winner.ID {
		t.Fatalf("expected winner wallet %s, got %v", winner.ID, rail.SellerWalletID)
	}
}

func TestHandleStripePaymentEvent_MissingMetadataRejected(t *testing.T) {
	repo := &railRepoStub{}
	service := NewRailService(repo, nil, "")

	_, err := service.HandleStripePaymentEvent(context.Background(), domain.StripeWebhookEvent{
		Type: "payment_intent.succeeded",
		Data: domain.StripeWebhookPayload{Object: domain.StripePaymentIntent{
			ID:     "pi_999",
			Amount: 5000,
		}},
	})
	if !errors.Is(err, ErrMissingWalletOwner) {
		t.Fatalf("expected ErrMissingWalletOwner, got %v", err)
	}
	if repo.confirmCalled != 0 {
		t.Fatal("expected no confirmation without a wallet owner")
	}
}

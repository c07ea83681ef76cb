package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/freelance-payments/internal/gateway"
	"github.com/ignatzorin/freelance-payments/internal/models"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
)

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockEventStore) MarkCompleted(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *mockEventStore) MarkFailed(ctx context.Context, eventID, errorMessage string) error {
	args := m.Called(ctx, eventID, errorMessage)
	return args.Error(0)
}

func (m *mockEventStore) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]models.ProcessedWebhookEvent, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]models.ProcessedWebhookEvent), args.Error(1)
}

func (m *mockEventStore) PruneCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) ApplyIntentSucceeded(ctx context.Context, intentID, eventID, eventType string) error {
	args := m.Called(ctx, intentID, eventID, eventType)
	return args.Error(0)
}

func (m *mockApplier) ApplyIntentFailed(ctx context.Context, intentID, eventID, eventType, reason string) error {
	args := m.Called(ctx, intentID, eventID, eventType, reason)
	return args.Error(0)
}

func (m *mockApplier) ApplyChargeRefunded(ctx context.Context, intentID, eventID, eventType, refundID string) error {
	args := m.Called(ctx, intentID, eventID, eventType, refundID)
	return args.Error(0)
}

func (m *mockApplier) ApplyDisputeCreated(ctx context.Context, intentID, eventID, eventType string) error {
	args := m.Called(ctx, intentID, eventID, eventType)
	return args.Error(0)
}

type mockAccountSync struct {
	mock.Mock
}

func (m *mockAccountSync) SyncEligibility(ctx context.Context, externalAccountID string, payoutsEnabled, detailsSubmitted bool) error {
	args := m.Called(ctx, externalAccountID, payoutsEnabled, detailsSubmitted)
	return args.Error(0)
}

const testWebhookSecret = "whsec_test"

func signedEvent(t *testing.T, id, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	assert.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"data": map[string]any{"object": json.RawMessage(raw)},
	})
	assert.NoError(t, err)

	return payload, gateway.SignPayload(payload, testWebhookSecret, time.Now())
}

func newWebhookService(events *mockEventStore, applier *mockApplier, accounts *mockAccountSync) *WebhookService {
	return NewWebhookService(events, applier, accounts, nil, testWebhookSecret, gateway.DefaultSignatureTolerance)
}

func TestWebhookService_IntentSucceeded(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_1", gateway.EventIntentSucceeded,
		map[string]any{"id": "pi_1", "status": "succeeded"})

	events.On("Claim", ctx, "evt_1", gateway.EventIntentSucceeded).Return(true, nil)
	applier.On("ApplyIntentSucceeded", ctx, "pi_1", "evt_1", gateway.EventIntentSucceeded).Return(nil)
	events.On("MarkCompleted", ctx, "evt_1").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
	events.AssertCalled(t, "MarkCompleted", ctx, "evt_1")
}

func TestWebhookService_InvalidSignature(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, _ := signedEvent(t, "evt_1", gateway.EventIntentSucceeded, map[string]any{"id": "pi_1"})
	badHeader := gateway.SignPayload(payload, "whsec_wrong", time.Now())

	err := svc.HandleEvent(ctx, payload, badHeader)

	assert.True(t, apperror.IsSignature(err))
	events.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_TamperedPayload(t *testing.T) {
	events := new(mockEventStore)
	svc := newWebhookService(events, new(mockApplier), new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_1", gateway.EventIntentSucceeded, map[string]any{"id": "pi_1"})
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = 'X'

	err := svc.HandleEvent(ctx, tampered, header)

	assert.True(t, apperror.IsSignature(err))
}

func TestWebhookService_DuplicateDelivery(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_dup", gateway.EventIntentSucceeded, map[string]any{"id": "pi_1"})

	events.On("Claim", ctx, "evt_dup", gateway.EventIntentSucceeded).Return(false, nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
	applier.AssertNotCalled(t, "ApplyIntentSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}

func TestWebhookService_IntentFailed(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_f", gateway.EventIntentFailed, map[string]any{
		"id":                 "pi_1",
		"last_payment_error": map[string]any{"message": "card_declined"},
	})

	events.On("Claim", ctx, "evt_f", gateway.EventIntentFailed).Return(true, nil)
	applier.On("ApplyIntentFailed", ctx, "pi_1", "evt_f", gateway.EventIntentFailed, "card_declined").Return(nil)
	events.On("MarkCompleted", ctx, "evt_f").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
}

func TestWebhookService_ChargeRefunded(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_r", gateway.EventChargeRefunded, map[string]any{
		"id":             "ch_1",
		"payment_intent": "pi_1",
		"refunded":       true,
		"refunds":        map[string]any{"data": []map[string]any{{"id": "re_1"}}},
	})

	events.On("Claim", ctx, "evt_r", gateway.EventChargeRefunded).Return(true, nil)
	applier.On("ApplyChargeRefunded", ctx, "pi_1", "evt_r", gateway.EventChargeRefunded, "re_1").Return(nil)
	events.On("MarkCompleted", ctx, "evt_r").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
}

func TestWebhookService_AccountUpdated(t *testing.T) {
	events := new(mockEventStore)
	accounts := new(mockAccountSync)
	svc := newWebhookService(events, new(mockApplier), accounts)
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_a", gateway.EventAccountUpdated, map[string]any{
		"id":                "acct_1",
		"payouts_enabled":   true,
		"details_submitted": true,
	})

	events.On("Claim", ctx, "evt_a", gateway.EventAccountUpdated).Return(true, nil)
	accounts.On("SyncEligibility", ctx, "acct_1", true, true).Return(nil)
	events.On("MarkCompleted", ctx, "evt_a").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
}

func TestWebhookService_UnknownTypeAcknowledged(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_u", "customer.created", map[string]any{"id": "cus_1"})

	events.On("Claim", ctx, "evt_u", "customer.created").Return(true, nil)
	events.On("MarkCompleted", ctx, "evt_u").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
	events.AssertCalled(t, "MarkCompleted", ctx, "evt_u")
}

func TestWebhookService_UnmatchedPaymentAcknowledged(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_x", gateway.EventIntentSucceeded, map[string]any{"id": "pi_foreign"})

	events.On("Claim", ctx, "evt_x", gateway.EventIntentSucceeded).Return(true, nil)
	applier.On("ApplyIntentSucceeded", ctx, "pi_foreign", "evt_x", gateway.EventIntentSucceeded).
		Return(apperror.ErrPaymentNotFound)
	events.On("MarkCompleted", ctx, "evt_x").Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.NoError(t, err)
	events.AssertCalled(t, "MarkCompleted", ctx, "evt_x")
}

func TestWebhookService_ProcessingFailureMarkedFailed(t *testing.T) {
	events := new(mockEventStore)
	applier := new(mockApplier)
	svc := newWebhookService(events, applier, new(mockAccountSync))
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_e", gateway.EventIntentSucceeded, map[string]any{"id": "pi_1"})

	events.On("Claim", ctx, "evt_e", gateway.EventIntentSucceeded).Return(true, nil)
	applier.On("ApplyIntentSucceeded", ctx, "pi_1", "evt_e", gateway.EventIntentSucceeded).
		Return(assert.AnError)
	events.On("MarkFailed", ctx, "evt_e", mock.AnythingOfType("string")).Return(nil)

	err := svc.HandleEvent(ctx, payload, header)

	assert.Error(t, err)
	events.AssertCalled(t, "MarkFailed", ctx, "evt_e", mock.AnythingOfType("string"))
	events.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}

func TestWebhookService_MalformedPayload(t *testing.T) {
	events := new(mockEventStore)
	svc := newWebhookService(events, new(mockApplier), new(mockAccountSync))
	ctx := context.Background()

	payload := []byte(`{"id": "evt_1", "type":`)
	header := gateway.SignPayload(payload, testWebhookSecret, time.Now())

	err := svc.HandleEvent(ctx, payload, header)

	assert.True(t, apperror.IsValidation(err))
	events.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

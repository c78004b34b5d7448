package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isachinpnr/eventease/internal/domain"
	"github.com/isachinpnr/eventease/internal/gateway/uropay"
	"github.com/isachinpnr/eventease/internal/service/booking"
)

type fakeEngine struct {
	booking      *domain.Booking
	event        *domain.Event
	pendingErr   error
	confirmErr   error
	transitioned bool

	confirmCalls int
	lastRef      booking.Ref
	lastEvidence booking.Evidence
}

func (f *fakeEngine) CreatePendingBooking(
	_ context.Context,
	userID, eventID uuid.UUID,
	seats int,
) (*domain.Booking, *domain.Event, error) {
	if f.pendingErr != nil {
		return nil, nil, f.pendingErr
	}
	return f.booking, f.event, nil
}

func (f *fakeEngine) Confirm(_ context.Context, ref booking.Ref, ev booking.Evidence) (*domain.Booking, bool, error) {
	f.confirmCalls++
	f.lastRef = ref
	f.lastEvidence = ev
	if f.confirmErr != nil {
		return nil, false, f.confirmErr
	}
	return f.booking, f.transitioned, nil
}

type fakeGateway struct {
	enabled   bool
	link      *uropay.PaymentLink
	createErr error
	getErr    error

	lastCreate uropay.CreateLinkRequest
	lastGetID  string
}

func (f *fakeGateway) Enabled() bool { return f.enabled }

func (f *fakeGateway) CreatePaymentLink(_ context.Context, req uropay.CreateLinkRequest) (*uropay.PaymentLink, error) {
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.link, nil
}

func (f *fakeGateway) GetPaymentLink(_ context.Context, linkID string) (*uropay.PaymentLink, error) {
	f.lastGetID = linkID
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.link, nil
}

type fakeReader struct {
	booking *domain.Booking
	err     error
}

func (f *fakeReader) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.booking, nil
}

type fakeIdem struct {
	locks    map[string]bool
	released []string
	saved    map[string]string
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{locks: map[string]bool{}, saved: map[string]string{}}
}

func (f *fakeIdem) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeIdem) Release(_ context.Context, key string) error {
	delete(f.locks, key)
	f.released = append(f.released, key)
	return nil
}

func (f *fakeIdem) SaveResult(_ context.Context, key string, payload string) error {
	f.saved[key] = payload
	return nil
}

func (f *fakeIdem) GetResult(_ context.Context, key string) (string, bool, error) {
	v, ok := f.saved[key]
	return v, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixture(gw *fakeGateway) (*Service, *fakeEngine) {
	userID := uuid.New()
	eventID := uuid.New()

	engine := &fakeEngine{
		booking: &domain.Booking{
			ID:              uuid.New(),
			UserID:          userID,
			EventID:         eventID,
			Seats:           2,
			TotalAmount:     1000,
			Status:          domain.BookingPending,
			PaymentStatus:   domain.PaymentPending,
			PaymentIntentID: "EVT-aaaaaa-bbbbbb-12345678",
		},
		event: &domain.Event{
			ID:    eventID,
			Title: "Go Conf",
			Price: 500,
		},
		transitioned: true,
	}

	svc := New(engine, gw, &fakeReader{booking: engine.booking}, nil, testLogger(), Config{
		CallbackURL: "https://app.test/api/payments/webhook",
		ReturnURL:   "https://app.test/payments/done",
	})

	return svc, engine
}

func TestCreatePayment_GatewayMode(t *testing.T) {
	gw := &fakeGateway{
		enabled: true,
		link: &uropay.PaymentLink{
			ID:     "plink_7",
			URL:    "https://pay.test/plink_7",
			QRCode: "qr",
		},
	}
	svc, engine := fixture(gw)

	payer := Payer{ID: engine.booking.UserID, Name: "Asha", Email: "asha@test.dev"}
	intent, err := svc.CreatePayment(context.Background(), payer, engine.event.ID, 2, "")
	require.NoError(t, err)

	assert.Equal(t, ModeGateway, intent.Mode)
	require.NotNil(t, intent.Link)
	assert.Equal(t, "plink_7", intent.Link.ID)
	assert.Equal(t, engine.booking.PaymentIntentID, intent.Reference)

	assert.Equal(t, 1000.0, gw.lastCreate.Amount)
	assert.Equal(t, "INR", gw.lastCreate.Currency)
	assert.Equal(t, "2", gw.lastCreate.Notes.Seats)
	assert.Equal(t, engine.event.ID.String(), gw.lastCreate.Notes.EventID)
	assert.Equal(t, payer.ID.String(), gw.lastCreate.Notes.UserID)
	assert.Equal(t, "https://app.test/api/payments/webhook", gw.lastCreate.CallbackURL)
}

func TestCreatePayment_DirectWhenDisabled(t *testing.T) {
	svc, engine := fixture(&fakeGateway{enabled: false})

	intent, err := svc.CreatePayment(context.Background(), Payer{ID: engine.booking.UserID}, engine.event.ID, 2, "")
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, intent.Mode)
	assert.Nil(t, intent.Link)
	assert.Equal(t, engine.booking.PaymentIntentID, intent.Reference)
}

func TestCreatePayment_DegradesOnGatewayError(t *testing.T) {
	gw := &fakeGateway{enabled: true, createErr: errors.New("boom")}
	svc, engine := fixture(gw)

	intent, err := svc.CreatePayment(context.Background(), Payer{ID: engine.booking.UserID}, engine.event.ID, 2, "")
	require.NoError(t, err, "link failure must not fail intent creation")

	assert.Equal(t, ModeDirect, intent.Mode)
	assert.Nil(t, intent.Link)
}

func TestCreatePayment_EnginePropagates(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})
	engine.pendingErr = booking.ErrNoCapacity

	_, err := svc.CreatePayment(context.Background(), Payer{}, uuid.New(), 2, "")
	assert.ErrorIs(t, err, booking.ErrNoCapacity)
}

func TestVerify(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})
	caller := engine.booking.UserID

	_, err := svc.Verify(context.Background(), caller, VerifyRequest{
		BookingID:     engine.booking.ID,
		TransactionID: "txn_5",
		Amount:        1000,
		Seats:         2,
	})
	require.NoError(t, err)

	assert.Equal(t, booking.ChannelVerify, engine.lastEvidence.Channel)
	assert.Equal(t, "txn_5", engine.lastEvidence.TransactionID)
	assert.Equal(t, 1000.0, engine.lastEvidence.Amount)
	assert.Equal(t, 1000.0, engine.lastEvidence.TotalAmount)
	assert.Equal(t, 2, engine.lastEvidence.Seats)
	assert.True(t, engine.lastEvidence.RequireOwner)
	assert.Equal(t, caller, engine.lastEvidence.CallerID)
	assert.Equal(t, engine.booking.ID, engine.lastRef.BookingID)
}

func TestVerify_MissingReference(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	_, err := svc.Verify(context.Background(), engine.booking.UserID, VerifyRequest{
		BookingID: engine.booking.ID,
	})
	assert.ErrorIs(t, err, ErrMissingReference)
	assert.Zero(t, engine.confirmCalls)
}

func TestVerify_CorroboratesLinkWithGateway(t *testing.T) {
	gw := &fakeGateway{
		enabled: true,
		link:    &uropay.PaymentLink{ID: "plink_1", Status: "paid", TransactionID: "txn_gw"},
	}
	svc, engine := fixture(gw)

	_, err := svc.Verify(context.Background(), engine.booking.UserID, VerifyRequest{
		BookingID:     engine.booking.ID,
		PaymentLinkID: "plink_1",
	})
	require.NoError(t, err)

	assert.True(t, engine.lastEvidence.GatewayConfirmed)
	assert.Equal(t, "txn_gw", engine.lastEvidence.TransactionID)
}

func TestCheckPayment_KeepsPollingWhenGatewayDown(t *testing.T) {
	tests := []struct {
		name string
		gw   *fakeGateway
	}{
		{"disabled", &fakeGateway{enabled: false}},
		{"unreachable", &fakeGateway{enabled: true, getErr: errors.New("timeout")}},
		{"unpaid", &fakeGateway{enabled: true, link: &uropay.PaymentLink{ID: "plink_1", Status: "created"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, engine := fixture(tt.gw)

			res, err := svc.CheckPayment(context.Background(), engine.booking.UserID, engine.booking.ID, "plink_1")
			require.NoError(t, err)
			assert.False(t, res.Verified)
			assert.Zero(t, engine.confirmCalls)
		})
	}
}

func TestCheckPayment_ConfirmsOnPaidLink(t *testing.T) {
	gw := &fakeGateway{
		enabled: true,
		link:    &uropay.PaymentLink{ID: "plink_1", Status: "captured", TransactionID: "txn_c"},
	}
	svc, engine := fixture(gw)

	res, err := svc.CheckPayment(context.Background(), engine.booking.UserID, engine.booking.ID, "plink_1")
	require.NoError(t, err)

	assert.True(t, res.Verified)
	assert.Equal(t, booking.ChannelPoll, engine.lastEvidence.Channel)
	assert.True(t, engine.lastEvidence.GatewayConfirmed)
	assert.Equal(t, "txn_c", engine.lastEvidence.TransactionID)
	assert.True(t, engine.lastEvidence.RequireOwner)
}

func TestCheckPayment_FallsBackToLocalState(t *testing.T) {
	// The booking may have confirmed through the webhook while the client was
	// polling without a usable link id.
	svc, engine := fixture(&fakeGateway{enabled: false})
	engine.booking.Status = domain.BookingConfirmed

	res, err := svc.CheckPayment(context.Background(), engine.booking.UserID, engine.booking.ID, "")
	require.NoError(t, err)

	assert.True(t, res.Verified)
	require.NotNil(t, res.Booking)
	assert.Equal(t, engine.booking.ID, res.Booking.ID)
	assert.Zero(t, engine.confirmCalls, "local state alone answers the poll")
}

func TestCheckPayment_NoLinkIDIsNotAnError(t *testing.T) {
	svc, engine := fixture(&fakeGateway{enabled: true})

	res, err := svc.CheckPayment(context.Background(), engine.booking.UserID, engine.booking.ID, "")
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestCheckPayment_RejectsForeignBooking(t *testing.T) {
	svc, engine := fixture(&fakeGateway{enabled: false})

	_, err := svc.CheckPayment(context.Background(), uuid.New(), engine.booking.ID, "")
	assert.ErrorIs(t, err, booking.ErrNotOwner)
}

func TestConfirmSelf(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	_, err := svc.ConfirmSelf(context.Background(), engine.booking.UserID, engine.booking.ID)
	require.NoError(t, err)

	assert.Equal(t, booking.ChannelSelf, engine.lastEvidence.Channel)
	assert.True(t, engine.lastEvidence.RequireOwner)
	assert.Empty(t, engine.lastEvidence.TransactionID)
}

func TestManualVerify(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	_, err := svc.ManualVerify(context.Background(), ManualVerifyRequest{
		UserID:        engine.booking.UserID,
		EventID:       engine.booking.EventID,
		TransactionID: "txn_support",
		Amount:        1000,
	})
	require.NoError(t, err)

	assert.Equal(t, booking.ChannelManual, engine.lastEvidence.Channel)
	assert.False(t, engine.lastEvidence.RequireOwner, "admin channel skips the ownership check")

	_, err = svc.ManualVerify(context.Background(), ManualVerifyRequest{UserID: engine.booking.UserID})
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestStatus_Ownership(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	b, err := svc.Status(context.Background(), engine.booking.UserID, engine.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.booking.ID, b.ID)

	_, err = svc.Status(context.Background(), uuid.New(), engine.booking.ID)
	assert.ErrorIs(t, err, booking.ErrNotOwner)
}

func webhookBody(t *testing.T, event string, payload map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": payload})
	require.NoError(t, err)
	return b
}

func TestHandleWebhook_ConfirmsWithPaiseConversion(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})
	userID := engine.booking.UserID
	eventID := engine.booking.EventID

	svc.HandleWebhook(context.Background(), webhookBody(t, "payment.success", map[string]any{
		"id":              "pay_1",
		"payment_link_id": "plink_1",
		"transaction_id":  "txn_w",
		"amount":          100000, // paise
		"notes": map[string]any{
			"eventId": eventID.String(),
			"userId":  userID.String(),
			"seats":   "2",
		},
	}))

	require.Equal(t, 1, engine.confirmCalls)
	assert.Equal(t, booking.ChannelWebhook, engine.lastEvidence.Channel)
	assert.Equal(t, 1000.0, engine.lastEvidence.Amount)
	assert.Equal(t, 1000.0, engine.lastEvidence.TotalAmount)
	assert.Equal(t, 2, engine.lastEvidence.Seats)
	assert.Equal(t, "txn_w", engine.lastEvidence.TransactionID)
	assert.Equal(t, userID, engine.lastRef.UserID)
	assert.Equal(t, eventID, engine.lastRef.EventID)
	assert.Equal(t, uuid.Nil, engine.lastRef.BookingID)
}

func TestHandleWebhook_AcceptsLegacyPayloadKey(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	body, err := json.Marshal(map[string]any{
		"event": "payment.success",
		"payload": map[string]any{
			"id":     "pay_old",
			"amount": 100000,
			"notes": map[string]any{
				"eventId": engine.booking.EventID.String(),
				"userId":  engine.booking.UserID.String(),
				"seats":   "2",
			},
		},
	})
	require.NoError(t, err)

	svc.HandleWebhook(context.Background(), body)

	require.Equal(t, 1, engine.confirmCalls)
	assert.Equal(t, 1000.0, engine.lastEvidence.Amount)
}

func TestHandleWebhook_IgnoresNoise(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})

	// unrelated event type
	svc.HandleWebhook(context.Background(), webhookBody(t, "payment.failed", map[string]any{
		"id": "pay_1",
	}))
	// malformed body
	svc.HandleWebhook(context.Background(), []byte("not json"))
	// missing correlation notes
	svc.HandleWebhook(context.Background(), webhookBody(t, "payment.success", map[string]any{
		"id": "pay_2",
	}))

	assert.Zero(t, engine.confirmCalls)
}

func TestHandleWebhook_SwallowsConfirmErrors(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})
	engine.confirmErr = booking.ErrNoCapacity

	// Must not panic or propagate: the transport always acks 200.
	svc.HandleWebhook(context.Background(), webhookBody(t, "payment.captured", map[string]any{
		"id":     "pay_3",
		"amount": 50000,
		"notes": map[string]any{
			"eventId": uuid.NewString(),
			"userId":  uuid.NewString(),
			"seats":   "1",
		},
	}))

	assert.Equal(t, 1, engine.confirmCalls)
}

func TestHandleWebhook_DedupReleasedOnFailedConfirm(t *testing.T) {
	svc, engine := fixture(&fakeGateway{})
	idem := newFakeIdem()
	svc.idem = idem

	body := webhookBody(t, "payment.success", map[string]any{
		"id":     "pay_9",
		"amount": 100000,
		"notes": map[string]any{
			"eventId": engine.booking.EventID.String(),
			"userId":  engine.booking.UserID.String(),
			"seats":   "2",
		},
	})

	// First delivery hits a transient failure: the dedup key must come back
	// so the gateway's redelivery gets another shot.
	engine.confirmErr = errors.New("connection reset")
	svc.HandleWebhook(context.Background(), body)
	require.Equal(t, 1, engine.confirmCalls)
	require.Len(t, idem.released, 1)

	engine.confirmErr = nil
	svc.HandleWebhook(context.Background(), body)
	require.Equal(t, 2, engine.confirmCalls)

	// After a successful confirmation the key stays held and duplicates
	// are dropped.
	svc.HandleWebhook(context.Background(), body)
	assert.Equal(t, 2, engine.confirmCalls)
}

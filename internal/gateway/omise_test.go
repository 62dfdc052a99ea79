package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOmiseAPI struct {
	mock.Mock
}

func (m *MockOmiseAPI) CreateSource(ctx context.Context, op *operations.CreateSource) (*omise.Source, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*omise.Source), args.Error(1)
}

func (m *MockOmiseAPI) CreateCharge(ctx context.Context, op *operations.CreateCharge) (*omise.Charge, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*omise.Charge), args.Error(1)
}

func (m *MockOmiseAPI) RetrieveCharge(ctx context.Context, op *operations.RetrieveCharge) (*omise.Charge, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*omise.Charge), args.Error(1)
}

func (m *MockOmiseAPI) CreateRefund(ctx context.Context, op *operations.CreateRefund) (*omise.Refund, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*omise.Refund), args.Error(1)
}

func TestOmise_CreateIntent(t *testing.T) {
	api := &MockOmiseAPI{}
	gw := &Omise{api: api, sourceType: "promptpay", returnURI: "https://app/return"}

	src := &omise.Source{}
	src.ID = "src_1"
	api.On("CreateSource", mock.Anything, mock.MatchedBy(func(op *operations.CreateSource) bool {
		return op.Type == "promptpay" && op.Amount == 11500 && op.Currency == "thb"
	})).Return(src, nil).Once()

	ch := &omise.Charge{AuthorizeURI: "https://pay/authorize"}
	ch.ID = "chrg_1"
	api.On("CreateCharge", mock.Anything, mock.MatchedBy(func(op *operations.CreateCharge) bool {
		return op.Source == "src_1" && op.Amount == 11500 && op.Metadata["booking_id"] == "b-1"
	})).Return(ch, nil).Once()

	intent, err := gw.CreateIntent(context.Background(), 11500, "thb", map[string]string{"booking_id": "b-1"})
	require.NoError(t, err)
	assert.Equal(t, "chrg_1", intent.ID)
	assert.Equal(t, "https://pay/authorize", intent.ClientSecret)
	assert.Equal(t, domain.IntentStatusPending, intent.Status)
	api.AssertExpectations(t)
}

func TestOmise_CreateIntent_SourceFails(t *testing.T) {
	api := &MockOmiseAPI{}
	gw := &Omise{api: api, sourceType: "promptpay"}

	api.On("CreateSource", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	_, err := gw.CreateIntent(context.Background(), 100, "thb", nil)
	assert.Error(t, err)
	api.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestOmise_RetrieveIntent(t *testing.T) {
	api := &MockOmiseAPI{}
	gw := &Omise{api: api}

	ch := &omise.Charge{Status: "successful"}
	ch.ID = "chrg_1"
	api.On("RetrieveCharge", mock.Anything, &operations.RetrieveCharge{ChargeID: "chrg_1"}).Return(ch, nil).Once()

	intent, err := gw.RetrieveIntent(context.Background(), "chrg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, intent.Status)
}

func TestOmise_Refund(t *testing.T) {
	api := &MockOmiseAPI{}
	gw := &Omise{api: api}

	rf := &omise.Refund{Amount: 11500, Currency: "thb", Charge: "chrg_1", Transaction: "trxn_1"}
	rf.ID = "rfnd_1"
	api.On("CreateRefund", mock.Anything, mock.MatchedBy(func(op *operations.CreateRefund) bool {
		return op.ChargeID == "chrg_1" && op.Amount == 11500
	})).Return(rf, nil).Once()

	res, err := gw.Refund(context.Background(), "chrg_1", 11500, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", res.ID)
	assert.Equal(t, "succeeded", res.Status)
}

func TestChargeStatus(t *testing.T) {
	assert.Equal(t, domain.IntentStatusSucceeded, chargeStatus("successful"))
	assert.Equal(t, domain.IntentStatusFailed, chargeStatus("failed"))
	assert.Equal(t, domain.IntentStatusCancelled, chargeStatus("expired"))
	assert.Equal(t, domain.IntentStatusPending, chargeStatus("pending"))
}

// Тест: запрос к Omise уважает отмену контекста
func TestOmiseClient_BindsContext(t *testing.T) {
	c, err := omise.NewClient("pkey_test_1", "skey_test_1")
	require.NoError(t, err)
	client := omiseClient{c: c}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.RetrieveCharge(ctx, &operations.RetrieveCharge{ChargeID: "chrg_1"})
	assert.ErrorIs(t, err, context.Canceled)
}

// Тест: контекст передаётся в API
func TestOmise_PassesContext(t *testing.T) {
	api := &MockOmiseAPI{}
	gw := &Omise{api: api}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	api.On("RetrieveCharge", ctx, mock.Anything).Return(nil, context.DeadlineExceeded).Once()

	_, err := gw.RetrieveIntent(ctx, "chrg_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	api.AssertExpectations(t)
}

package gateway

import (
	"context"
	"fmt"

	"github.com/Domenick1991/stagebook/config"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// omiseAPI is the subset of Omise operations the adapter issues.
type omiseAPI interface {
	CreateSource(ctx context.Context, op *operations.CreateSource) (*omise.Source, error)
	CreateCharge(ctx context.Context, op *operations.CreateCharge) (*omise.Charge, error)
	RetrieveCharge(ctx context.Context, op *operations.RetrieveCharge) (*omise.Charge, error)
	CreateRefund(ctx context.Context, op *operations.CreateRefund) (*omise.Refund, error)
}

type omiseClient struct {
	c *omise.Client
}

// bind returns a copy of the client whose requests carry ctx. WithContext mutates
// the client, so the shared one is never bound.
func (o omiseClient) bind(ctx context.Context) *omise.Client {
	c := *o.c
	c.WithContext(ctx)
	return &c
}

func (o omiseClient) CreateSource(ctx context.Context, op *operations.CreateSource) (*omise.Source, error) {
	src := &omise.Source{}
	return src, o.bind(ctx).Do(src, op)
}

func (o omiseClient) CreateCharge(ctx context.Context, op *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	return ch, o.bind(ctx).Do(ch, op)
}

func (o omiseClient) RetrieveCharge(ctx context.Context, op *operations.RetrieveCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	return ch, o.bind(ctx).Do(ch, op)
}

func (o omiseClient) CreateRefund(ctx context.Context, op *operations.CreateRefund) (*omise.Refund, error) {
	rf := &omise.Refund{}
	return rf, o.bind(ctx).Do(rf, op)
}

// Omise maps payment intents onto Omise charges created from a source.
// The charge id is the intent id and the authorize URI is the client secret.
type Omise struct {
	api        omiseAPI
	sourceType string
	returnURI  string
}

func NewOmise(cfg config.GatewayConfig) (*Omise, error) {
	c, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &Omise{api: omiseClient{c: c}, sourceType: cfg.SourceType, returnURI: cfg.ReturnURI}, nil
}

func (o *Omise) CreateIntent(ctx context.Context, amount domain.Money, currency string, metadata map[string]string) (*domain.PaymentIntent, error) {
	src, err := o.api.CreateSource(ctx, &operations.CreateSource{
		Type:     o.sourceType,
		Amount:   int64(amount),
		Currency: currency,
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	meta := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	ch, err := o.api.CreateCharge(ctx, &operations.CreateCharge{
		Amount:    int64(amount),
		Currency:  currency,
		Source:    src.ID,
		ReturnURI: o.returnURI,
		Metadata:  meta,
	})
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return chargeIntent(ch), nil
}

func (o *Omise) RetrieveIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	ch, err := o.api.RetrieveCharge(ctx, &operations.RetrieveCharge{ChargeID: intentID})
	if err != nil {
		return nil, fmt.Errorf("retrieve charge %s: %w", intentID, err)
	}
	return chargeIntent(ch), nil
}

func (o *Omise) Refund(ctx context.Context, intentID string, amount domain.Money, reason string) (*RefundResult, error) {
	rf, err := o.api.CreateRefund(ctx, &operations.CreateRefund{
		ChargeID: intentID,
		Amount:   int64(amount),
		Metadata: map[string]interface{}{"reason": reason},
	})
	if err != nil {
		return nil, fmt.Errorf("refund charge %s: %w", intentID, err)
	}
	// Omise answers a refund it accepted with the refund object; it carries no status.
	return &RefundResult{ID: rf.ID, Status: RefundStatusSucceeded}, nil
}

func chargeIntent(ch *omise.Charge) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:           ch.ID,
		ClientSecret: ch.AuthorizeURI,
		Status:       chargeStatus(string(ch.Status)),
	}
}

func chargeStatus(s string) domain.IntentStatus {
	switch s {
	case "successful":
		return domain.IntentStatusSucceeded
	case "failed":
		return domain.IntentStatusFailed
	case "expired", "reversed":
		return domain.IntentStatusCancelled
	default:
		return domain.IntentStatusPending
	}
}

var _ PaymentGateway = (*Omise)(nil)

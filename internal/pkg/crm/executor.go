package crm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
)

// searchWindow is how far behind the payment date the prior-deal
// search looks for an overlapping deal to attach the payment to.
const searchWindow = 14 * 24 * time.Hour

const searchDateLayout = "2006-01-02"

// Docs is the document-store surface the CRM sink needs.
type Docs interface {
	FindOrderByID(ctx context.Context, id docstore.ObjectID) (*docstore.Order, error)
	FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error)
}

// AuditWriter persists structured diagnostic records.
type AuditWriter interface {
	Write(t auditlog.Type, payload map[string]interface{})
}

// Executor is the dispatch sink syncing confirmed orders into the
// product's CRM account. Products without an enabled CRM integration
// are skipped.
type Executor struct {
	client *Client
	docs   Docs
	audit  AuditWriter
}

var _ dispatch.Sink = (*Executor)(nil)

func NewExecutor(client *Client, docs Docs, audit AuditWriter) *Executor {
	return &Executor{client: client, docs: docs, audit: audit}
}

func (e *Executor) Name() string { return "crm" }

func (e *Executor) Handle(ctx context.Context, system models.PaymentSystem, event dispatch.SettlementEvent) error {
	orderID, err := docstore.ParseObjectID(event.OrderID)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", event.OrderID, err)
	}
	order, err := e.docs.FindOrderByID(ctx, orderID)
	if err != nil || order == nil {
		return fmt.Errorf("order %s not found", event.OrderID)
	}
	if order.Status != "CONFIRMED" {
		return nil
	}
	// The CRM deal form only takes whole-unit costs.
	if event.UntouchedAmount != math.Trunc(event.UntouchedAmount) {
		return nil
	}
	product, err := e.docs.FindProductByID(ctx, order.Product)
	if err != nil || product == nil {
		return fmt.Errorf("product %s not found", order.Product.Hex())
	}
	if !product.CRM.Status || product.CRM.URL == "" {
		return nil
	}

	paidAt := time.Now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}

	// A prior deal of the same buyer and offer inside the search
	// window absorbs this payment; a failed search is logged and the
	// payment opens a fresh deal instead.
	number := order.Payment.ID
	prior, err := e.client.FindPriorDeal(ctx, product.CRM.URL, product.CRM.APIKey,
		DealSearchDate(paidAt), order.Email, product.CRM.Product)
	if err != nil {
		e.audit.Write(auditlog.TypeCRMSearchFailed, map[string]interface{}{
			"order.id": event.OrderID,
			"crmUrl":   product.CRM.URL,
			"message":  err.Error(),
		})
	} else if prior != "" {
		number = prior
	}

	deal := Deal{
		Number:        number,
		Product:       product.CRM.Product,
		Cost:          event.UntouchedAmount,
		Currency:      DealCurrency(system),
		Status:        "payed",
		PaymentType:   string(system),
		PaymentStatus: "accepted",
		IsPaid:        true,
	}
	user := DealUser{Email: order.Email, Phone: order.Phone}

	if err := e.client.PushDeal(ctx, product.CRM.URL, product.CRM.APIKey, user, deal); err != nil {
		e.audit.Write(auditlog.TypeCRMRequestFailed, map[string]interface{}{
			"order.id": event.OrderID,
			"crmUrl":   product.CRM.URL,
			"message":  err.Error(),
		})
		return err
	}
	return nil
}

// DealSearchDate formats the lower bound of the prior-deal search
// window: 14 days before the payment.
func DealSearchDate(paidAt time.Time) string {
	return paidAt.Add(-searchWindow).Format(searchDateLayout)
}

// DealCurrency maps the payment system to the CRM currency tag. The
// card providers settle in rubles, everything else in dollars.
func DealCurrency(system models.PaymentSystem) string {
	switch system {
	case models.PaymentSystemGazprom, models.PaymentSystemTinkoff:
		return "RUB"
	default:
		return "USD"
	}
}

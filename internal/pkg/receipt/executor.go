package receipt

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
)

// Docs is the document-store surface the receipt sink needs.
type Docs interface {
	FindOrderByID(ctx context.Context, id docstore.ObjectID) (*docstore.Order, error)
	FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error)
	SetOrderReceipt(ctx context.Context, orderID docstore.ObjectID, uuid, status string) error
}

// AuditWriter persists structured diagnostic records.
type AuditWriter interface {
	Write(t auditlog.Type, payload map[string]interface{})
}

// Executor is the dispatch sink issuing fiscal receipts. Only
// confirmed card payments are fiscalized; a rejected order produces
// no receipt.
type Executor struct {
	client *Client
	docs   Docs
	audit  AuditWriter
}

var _ dispatch.Sink = (*Executor)(nil)

func NewExecutor(client *Client, docs Docs, audit AuditWriter) *Executor {
	return &Executor{client: client, docs: docs, audit: audit}
}

func (e *Executor) Name() string { return "receipt" }

func (e *Executor) Handle(ctx context.Context, system models.PaymentSystem, event dispatch.SettlementEvent) error {
	if system != models.PaymentSystemGazprom && system != models.PaymentSystemTinkoff {
		return nil
	}

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
	product, err := e.docs.FindProductByID(ctx, order.Product)
	if err != nil || product == nil {
		return fmt.Errorf("product %s not found", order.Product.Hex())
	}

	token, err := e.client.Token(ctx)
	if err != nil {
		e.audit.Write(auditlog.TypeReceiptTokenFailed, map[string]interface{}{
			"order.id": event.OrderID,
			"message":  err.Error(),
		})
		return err
	}

	operation := Operation{
		ID:          OperationID(system, order),
		Amount:      event.UntouchedAmount,
		ProductName: product.Name,
		Email:       order.Email,
		Phone:       order.Phone,
	}
	operationUUID, err := e.client.CreateOperation(ctx, token, operation)
	if err != nil {
		e.audit.Write(auditlog.TypeReceiptCreateFailed, map[string]interface{}{
			"order.id":    event.OrderID,
			"operationId": operation.ID,
			"message":     err.Error(),
		})
		return err
	}

	report, err := e.client.Fetch(ctx, token, operationUUID)
	if err != nil {
		e.audit.Write(auditlog.TypeReceiptReportFailed, map[string]interface{}{
			"order.id": event.OrderID,
			"uuid":     operationUUID,
			"message":  err.Error(),
		})
		// The operation is registered; record the uuid even without
		// a status so a later report can be matched to the order.
		report = &Report{UUID: operationUUID, Status: "pending"}
	}

	if err := e.docs.SetOrderReceipt(ctx, orderID, report.UUID, report.Status); err != nil {
		log.Errorf("[Receipt] cannot store receipt %s on order %s: %v", report.UUID, event.OrderID, err)
		return err
	}
	return nil
}

// OperationID builds the receipt service's idempotent operation id:
// payment system marker, the sale marker, the provider's id for the
// payment, and the rebill id when present. Gazprom payments are keyed
// by the bank's transaction id, Tinkoff ones by the payment id.
func OperationID(system models.PaymentSystem, order *docstore.Order) string {
	prefix := "G-"
	paymentID := order.Payment.TrxID
	if system == models.PaymentSystemTinkoff {
		prefix = "T-"
		paymentID = order.Payment.ID
	}
	id := prefix + "S-" + paymentID
	if order.Recurrent.Rebill != "" {
		id += "-" + order.Recurrent.Rebill
	}
	return id
}

package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
	"github.com/softpaymoney/paygate/internal/pkg/httpx"
)

// retryCutoff is how long after the first delivery attempt the
// merchant webhook keeps being retried.
const retryCutoff = 24 * time.Hour

// retryDelay is the gap before the single follow-up attempt.
const retryDelay = time.Hour

// MerchantDocs is the document-store surface the webhook sink needs.
type MerchantDocs interface {
	FindOrderByID(ctx context.Context, id docstore.ObjectID) (*docstore.Order, error)
	FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error)
	FindWebhookByUser(ctx context.Context, userID docstore.ObjectID) (*docstore.Webhook, error)
	InsertWebhookJournal(ctx context.Context, entry *docstore.WebhookJournal) (docstore.ObjectID, error)
	LastWebhookJournal(ctx context.Context, orderID docstore.ObjectID) (*docstore.WebhookJournal, error)
}

// RetryScheduler enqueues a delayed re-delivery.
type RetryScheduler interface {
	Schedule(ctx context.Context, job RetryJob, due time.Time) error
}

// MerchantWebhook delivers the settlement outcome to the merchant's
// configured callback. Every attempt is journaled; a failed first
// attempt schedules exactly one retry unless the order's delivery
// history is already past the cutoff.
type MerchantWebhook struct {
	docs    MerchantDocs
	audit   AuditWriter
	retries RetryScheduler
	timeout time.Duration
}

func NewMerchantWebhook(docs MerchantDocs, audit AuditWriter, retries RetryScheduler, timeout time.Duration) *MerchantWebhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MerchantWebhook{docs: docs, audit: audit, retries: retries, timeout: timeout}
}

func (m *MerchantWebhook) Name() string { return "merchant-webhook" }

func (m *MerchantWebhook) Handle(ctx context.Context, system models.PaymentSystem, event SettlementEvent) error {
	return m.deliver(ctx, system, event, 1)
}

// Redeliver runs the scheduled follow-up attempt.
func (m *MerchantWebhook) Redeliver(ctx context.Context, job RetryJob) {
	if err := m.deliver(ctx, job.System, job.Event, job.Attempt); err != nil {
		log.Errorf("[Dispatch] webhook redelivery for order %s failed: %v", job.Event.OrderID, err)
	}
}

func (m *MerchantWebhook) deliver(ctx context.Context, system models.PaymentSystem, event SettlementEvent, attempt int) error {
	orderID, err := docstore.ParseObjectID(event.OrderID)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", event.OrderID, err)
	}

	order, err := m.docs.FindOrderByID(ctx, orderID)
	if err != nil || order == nil {
		m.audit.Write(auditlog.TypeOrderNotFound, map[string]interface{}{
			"order.id": event.OrderID,
			"sink":     m.Name(),
		})
		return fmt.Errorf("order %s not found", event.OrderID)
	}
	product, err := m.docs.FindProductByID(ctx, order.Product)
	if err != nil || product == nil {
		return fmt.Errorf("product %s not found", order.Product.Hex())
	}

	webhook, err := m.docs.FindWebhookByUser(ctx, product.User)
	if err != nil {
		return err
	}
	if webhook == nil || !webhook.Verified {
		return nil
	}

	// The last journal entry is read before this attempt is recorded:
	// its age tells how long delivery has already been failing.
	lastJournal, err := m.docs.LastWebhookJournal(ctx, orderID)
	if err != nil {
		log.Errorf("[Dispatch] cannot read webhook journal for order %s: %v", event.OrderID, err)
	}

	payload := buildMerchantPayload(order, product, event, webhook.Secret)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	result := httpx.PostJSON(ctx, webhook.Link, payload, m.timeout)
	m.journal(ctx, orderID, webhook, string(body), result, event)

	if result.OK {
		return nil
	}

	m.audit.Write(auditlog.TypeMerchantWebhookFailed, map[string]interface{}{
		"order.id":   event.OrderID,
		"webhookUrl": webhook.Link,
		"statusCode": result.StatusCode,
		"attempt":    attempt,
	})

	if attempt > 1 || m.retries == nil {
		return nil
	}
	if lastJournal != nil && time.Since(lastJournal.CreatedAt) > retryCutoff {
		log.Warnf("[Dispatch] giving up on webhook for order %s: first attempt older than %s", event.OrderID, retryCutoff)
		return nil
	}

	job := NewRetryJob(system, event, attempt+1)
	if err := m.retries.Schedule(ctx, job, time.Now().Add(retryDelay)); err != nil {
		log.Errorf("[Dispatch] cannot schedule webhook retry for order %s: %v", event.OrderID, err)
	}
	return nil
}

func (m *MerchantWebhook) journal(
	ctx context.Context,
	orderID docstore.ObjectID,
	webhook *docstore.Webhook,
	requestBody string,
	result httpx.Result,
	event SettlementEvent,
) {
	entry := &docstore.WebhookJournal{
		URL:          webhook.Link,
		Order:        orderID,
		Webhook:      webhook.ID,
		RequestBody:  requestBody,
		ResponseBody: string(result.Body),
		StatusCode:   result.StatusCode,
		Amount:       event.UntouchedAmount,
		PaidAmount:   event.FinalAmount,
		CreatedAt:    time.Now(),
	}
	if _, err := m.docs.InsertWebhookJournal(ctx, entry); err != nil {
		log.Errorf("[Dispatch] cannot journal webhook attempt for order %s: %v", orderID.Hex(), err)
	}
}

// merchantPayload is the body POSTed to the merchant callback. Token
// authenticates the call against the webhook secret.
type merchantPayload struct {
	OrderID     string                   `json:"orderId"`
	PaymentID   string                   `json:"paymentId"`
	Status      string                   `json:"status"`
	Amount      float64                  `json:"amount"`
	PaidAmount  float64                  `json:"paidAmount"`
	PaidAt      string                   `json:"paidAt,omitempty"`
	ProductLink string                   `json:"productLink,omitempty"`
	Email       string                   `json:"email,omitempty"`
	Phone       string                   `json:"phone,omitempty"`
	Payer       string                   `json:"payer,omitempty"`
	Promocode   string                   `json:"promocode,omitempty"`
	Recurrent   bool                     `json:"recurrent,omitempty"`
	Rebill      string                   `json:"rebill,omitempty"`
	Questions   []docstore.OrderQuestion `json:"questions,omitempty"`
	CustomData  interface{}              `json:"customData,omitempty"`
	Token       string                   `json:"token"`
}

func buildMerchantPayload(order *docstore.Order, product *docstore.Product, event SettlementEvent, secret string) merchantPayload {
	payload := merchantPayload{
		OrderID:     event.OrderID,
		PaymentID:   order.Payment.ID,
		Status:      order.Status,
		Amount:      event.UntouchedAmount,
		PaidAmount:  event.FinalAmount,
		ProductLink: product.Link,
		Email:       order.Email,
		Phone:       order.Phone,
		Payer:       order.Payer,
		Recurrent:   order.Recurrent.Status,
		Rebill:      order.Recurrent.Rebill,
		Questions:   order.Questions,
		CustomData:  order.CustomData,
	}
	if order.PaidAt != nil {
		payload.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	if order.Promocode != nil {
		payload.Promocode = order.Promocode.ID
	}
	payload.Token = webhookToken(map[string]string{
		"orderId":    payload.OrderID,
		"paymentId":  payload.PaymentID,
		"status":     payload.Status,
		"amount":     strconv.FormatFloat(payload.Amount, 'f', 2, 64),
		"paidAmount": strconv.FormatFloat(payload.PaidAmount, 'f', 2, 64),
	}, secret)
	return payload
}

// webhookToken hashes the scalar payload fields in key order together
// with the webhook secret. The merchant recomputes it to authenticate
// the call.
func webhookToken(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		h.Write([]byte(key))
		h.Write([]byte(fields[key]))
	}
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

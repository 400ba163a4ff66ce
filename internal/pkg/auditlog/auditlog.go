// Package auditlog persists structured diagnostic records into the
// ledger database. Every fatal processing condition writes one record
// keyed by a closed taxonomy of types; a failed audit write is logged
// and swallowed so it can never mask the original error.
package auditlog

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/softpaymoney/paygate/app/models"
)

// Type enumerates the audit record taxonomy.
type Type string

const (
	TypeServerError                Type = "server-error"
	TypeIncomingRequestNotFound    Type = "incoming-request-not-found"
	TypeDuplicateIncomingRequest   Type = "duplicate-incoming-request"
	TypeRequestProcessedOrFailed   Type = "incoming-request-already-processed-or-failed"
	TypeUnknownPaymentSystem       Type = "unknown-payment-system"
	TypeHandlerNotProcessedRequest Type = "handler-has-not-processed-request"
	TypeSignatureIncorrect         Type = "gazprom-signature-is-incorrect"
	TypeOrderNotFound              Type = "order-not-found"
	TypeProductNotFound            Type = "product-not-found"
	TypeOwnerNotFound              Type = "product-owner-not-found"
	TypeOwnerBalanceNotFound       Type = "product-owner-balance-not-found"
	TypeAmountIncorrect            Type = "incoming-request-amount-is-incorrect"
	TypeOrderHasNoPayment          Type = "order-has-no-payment-object"
	TypeCannotParseEventPayload    Type = "cannot-parse-external-interaction-payload"
	TypeDispatchRequestFailed      Type = "external-interaction-request-failed"
	TypeMerchantWebhookFailed      Type = "merchant-webhook-request-failed"
	TypeReceiptTokenFailed         Type = "cannot-get-receipt-auth-token"
	TypeReceiptCreateFailed        Type = "cannot-create-receipt-operation"
	TypeReceiptReportFailed        Type = "cannot-get-receipt-report"
	TypeCRMSearchFailed            Type = "crm-prior-deal-search-failed"
	TypeCRMRequestFailed           Type = "crm-request-failed"
)

// Logger writes audit records. The zero-value Logger backed by the
// ledger DB is constructed with New.
type Logger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// Write persists one audit record. Marshal or insert failures are
// reported to the process log and otherwise ignored.
func (l *Logger) Write(t Type, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[Audit] cannot marshal payload for %s: %v", t, err)
		body = []byte("{}")
	}
	record := models.AuditLog{
		Type:    string(t),
		Payload: string(body),
	}
	if err := l.db.Create(&record).Error; err != nil {
		log.Errorf("[Audit] cannot write record %s: %v", t, err)
	}
}

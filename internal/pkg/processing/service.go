// Package processing validates forwarded callbacks, computes the
// settlement amounts and writes the outcome to the ledger and the
// document store.
package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

// ContentTypeXML and ContentTypeJSON tag provider acknowledgements.
const (
	ContentTypeXML  = "text/xml"
	ContentTypeJSON = "application/json"
)

// Ack is the provider-facing acknowledgement built by a handler.
type Ack struct {
	ContentType string
	Body        string
}

// DocumentSource is the document-store surface consumed by the
// processing role. Satisfied by *docstore.Store.
type DocumentSource interface {
	FindOrderByPaymentID(ctx context.Context, paymentID string) (*docstore.Order, error)
	FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error)
	FindUserByID(ctx context.Context, id docstore.ObjectID) (*docstore.User, error)
	FindBalance(ctx context.Context, userID docstore.ObjectID, currency string) (*docstore.PaymentBalance, error)
	ConfirmOrder(ctx context.Context, orderID docstore.ObjectID, amount float64, paidAt time.Time) error
	RejectOrder(ctx context.Context, orderID docstore.ObjectID) error
	InsertTransaction(ctx context.Context, tx *docstore.Transaction) error
}

// Notifier forwards settlement events to the notification dispatcher.
type Notifier interface {
	NotifySettlement(ctx context.Context, system models.PaymentSystem, event dispatch.SettlementEvent)
}

// AuditWriter persists structured diagnostic records.
type AuditWriter interface {
	Write(t auditlog.Type, payload map[string]interface{})
}

// Config carries the processing wiring.
type Config struct {
	// MerchantID is echoed in the preparation acknowledgement.
	MerchantID string
	// SkipSignatureCheck disables webhook authenticity verification.
	// Test-only; the default fails closed.
	SkipSignatureCheck bool
}

// Service implements the processing role.
type Service struct {
	repo     Repository
	docs     DocumentSource
	verifier *SignatureVerifier
	notifier Notifier
	audit    AuditWriter
	cfg      Config
}

func NewService(repo Repository, docs DocumentSource, verifier *SignatureVerifier, notifier Notifier, audit AuditWriter, cfg Config) *Service {
	return &Service{
		repo:     repo,
		docs:     docs,
		verifier: verifier,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
	}
}

// Process settles one forwarded incoming request. The request moves
// RECEIVED → PROCESSED or RECEIVED → FAILED, both terminal; a request
// already terminal is rejected so re-delivery from the ingress
// fan-out cannot settle twice.
func (s *Service) Process(ctx context.Context, requestID uint) (*Ack, error) {
	request, err := s.repo.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		s.audit.Write(auditlog.TypeIncomingRequestNotFound, map[string]interface{}{"id": requestID})
		return nil, fmt.Errorf("%w: id=%d", pgerr.ErrRequestNotFound, requestID)
	}
	if request.Status.IsTerminal() {
		s.audit.Write(auditlog.TypeRequestProcessedOrFailed, map[string]interface{}{
			"id":            requestID,
			"status":        request.Status,
			"paymentSystem": request.PaymentSystem,
		})
		return nil, fmt.Errorf("%w: id=%d", pgerr.ErrAlreadyProcessed, requestID)
	}

	switch request.PaymentSystem {
	case models.PaymentSystemGazprom:
		return s.processGazprom(ctx, request)
	default:
		s.audit.Write(auditlog.TypeUnknownPaymentSystem, map[string]interface{}{
			"id":            requestID,
			"paymentSystem": request.PaymentSystem,
		})
		return nil, fmt.Errorf("%w: %q", pgerr.ErrUnknownPaymentSystem, request.PaymentSystem)
	}
}

func (s *Service) processGazprom(ctx context.Context, request *models.IncomingRequest) (*Ack, error) {
	switch request.HandlerDestination {
	case models.DestinationCompletion:
		result, err := s.executeCompletion(ctx, request)
		if err != nil {
			return nil, err
		}
		if result.orderProcessed {
			s.emitSettlementEvent(ctx, request.PaymentSystem, result)
		}
		return completionAck(), nil
	case models.DestinationPreparation:
		return s.executePreparation(ctx, request)
	default:
		return nil, fmt.Errorf("%w: unknown handler destination %q", pgerr.ErrInternal, request.HandlerDestination)
	}
}

// emitSettlementEvent hands the settlement outcome to the dispatch
// role. Fire-and-forget: the settlement is already durable and the
// provider response must not wait for downstream sinks.
func (s *Service) emitSettlementEvent(ctx context.Context, system models.PaymentSystem, result *completionResult) {
	event := dispatch.SettlementEvent{
		OrderID:         result.order.ID.Hex(),
		ProductOwnerID:  result.owner.ID.Hex(),
		FinalAmount:     result.finalAmount,
		UntouchedAmount: result.untouchedAmount,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Processing] settlement notify panicked: %v", r)
			}
		}()
		s.notifier.NotifySettlement(context.WithoutCancel(ctx), system, event)
	}()
}

// Package dispatch fans a settlement event out to the downstream
// sinks: the merchant webhook, the tax-receipt issuer and the CRM
// sync. Sinks are independent; one failing never blocks another and
// never fails the whole dispatch.
package dispatch

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

// Sink consumes one settlement event. Errors are reported per sink
// and swallowed by the dispatcher.
type Sink interface {
	Name() string
	Handle(ctx context.Context, system models.PaymentSystem, event SettlementEvent) error
}

// AuditWriter persists structured diagnostic records.
type AuditWriter interface {
	Write(t auditlog.Type, payload map[string]interface{})
}

// Service runs the configured sinks over incoming envelopes.
type Service struct {
	audit AuditWriter
	sinks []Sink
}

func NewService(audit AuditWriter, sinks ...Sink) *Service {
	return &Service{audit: audit, sinks: sinks}
}

// Dispatch decodes the envelope and hands the event to every sink.
// Only an undecodable envelope is an error; sink failures are logged
// by the sinks themselves and do not surface here.
func (s *Service) Dispatch(ctx context.Context, envelope Envelope) error {
	event, err := envelope.DecodeEvent()
	if err != nil {
		s.audit.Write(auditlog.TypeCannotParseEventPayload, map[string]interface{}{
			"paymentSystem": envelope.PaymentSystem,
			"payload":       envelope.Payload,
		})
		return fmt.Errorf("%w: %v", pgerr.ErrInternal, err)
	}

	for _, sink := range s.sinks {
		s.runSink(ctx, sink, envelope.PaymentSystem, event)
	}
	return nil
}

func (s *Service) runSink(ctx context.Context, sink Sink, system models.PaymentSystem, event SettlementEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Dispatch] sink %s panicked on order %s: %v", sink.Name(), event.OrderID, r)
		}
	}()
	if err := sink.Handle(ctx, system, event); err != nil {
		log.Errorf("[Dispatch] sink %s failed on order %s: %v", sink.Name(), event.OrderID, err)
	}
}

// Package ingress accepts provider callbacks, deduplicates them,
// persists the raw request and forwards it to a live processing
// instance discovered through the service registry.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/httpx"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

// idempotencyKeyField is the provider field identifying a unique
// customer/order interaction.
const idempotencyKeyField = "o.CustomerKey"

// PortSource lists candidate processing ports. Implemented by
// registry.Registry.
type PortSource interface {
	PortsOrFallback(base int) ([]int, error)
}

// AuditWriter persists structured diagnostic records.
type AuditWriter interface {
	Write(t auditlog.Type, payload map[string]interface{})
}

// HandlerAck is the provider-facing response body produced by the
// processing role and relayed through the fan-out call.
type HandlerAck struct {
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

type handlerResponse struct {
	OK  bool        `json:"ok"`
	Ack *HandlerAck `json:"ack,omitempty"`
}

// Config carries the ingress wiring.
type Config struct {
	HandlerHost     string
	HandlerBasePort int
	HandlerTimeout  time.Duration
}

// Service implements the ingress pipeline.
type Service struct {
	repo  Repository
	ports PortSource
	audit AuditWriter
	cfg   Config
}

func NewService(repo Repository, ports PortSource, audit AuditWriter, cfg Config) *Service {
	if cfg.HandlerHost == "" {
		cfg.HandlerHost = "localhost"
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	return &Service{repo: repo, ports: ports, audit: audit, cfg: cfg}
}

// ProcessRequest runs the full ingress flow for one provider callback
// and returns the final status of the persisted incoming request plus
// the ack produced by the handler that processed it. The
// provider-facing response must reflect success only for
// RequestStatusProcessed; the ack may be nil even then.
func (s *Service) ProcessRequest(
	ctx context.Context,
	payload map[string]string,
	paymentSystem models.PaymentSystem,
	destination models.HandlerDestination,
	metadata map[string]string,
) (models.IncomingRequestStatus, *HandlerAck, error) {
	duplicate, err := s.isDuplicate(payload, paymentSystem, destination)
	if err != nil {
		return "", nil, err
	}
	if duplicate {
		s.audit.Write(auditlog.TypeDuplicateIncomingRequest, toAuditPayload(payload))
		return "", nil, pgerr.ErrDuplicateRequest
	}

	request, err := s.persist(payload, paymentSystem, destination, metadata)
	if err != nil {
		return "", nil, err
	}

	if ack, ok := s.forwardToHandler(ctx, request.ID); ok {
		return models.RequestStatusProcessed, ack, nil
	}

	if err := s.repo.UpdateStatus(request.ID, models.RequestStatusFailed); err != nil {
		log.Errorf("[Ingress] cannot mark request %d failed: %v", request.ID, err)
	}
	return models.RequestStatusFailed, nil, nil
}

// isDuplicate checks the provider idempotency key against already
// accepted requests for the same handler destination. Best-effort: the
// check is a pre-insert existence lookup, not a DB constraint.
func (s *Service) isDuplicate(
	payload map[string]string,
	paymentSystem models.PaymentSystem,
	destination models.HandlerDestination,
) (bool, error) {
	if paymentSystem != models.PaymentSystemGazprom {
		return false, nil
	}
	key := strings.ReplaceAll(payload[idempotencyKeyField], " ", "")
	if key == "" {
		return false, nil
	}
	return s.repo.ExistsByIdempotencyKey(key, destination)
}

func (s *Service) persist(
	payload map[string]string,
	paymentSystem models.PaymentSystem,
	destination models.HandlerDestination,
	metadata map[string]string,
) (*models.IncomingRequest, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pgerr.ErrInternal, err)
	}
	meta := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pgerr.ErrInternal, err)
		}
		meta = string(raw)
	}

	request := &models.IncomingRequest{
		Payload:            string(body),
		Metadata:           meta,
		Status:             models.RequestStatusReceived,
		PaymentSystem:      paymentSystem,
		HandlerDestination: destination,
	}
	if err := s.repo.Create(request); err != nil {
		return nil, err
	}
	return request, nil
}

// forwardToHandler fans the request out over the candidate ports with
// first-success semantics. The HTTP response alone is not trusted: a
// call can time out while the remote side has already committed, so
// the persisted status is re-read after every successful call and is
// the source of truth.
func (s *Service) forwardToHandler(ctx context.Context, requestID uint) (*HandlerAck, bool) {
	ports, err := s.ports.PortsOrFallback(s.cfg.HandlerBasePort)
	if err != nil {
		log.Errorf("[Ingress] registry lookup failed: %v", err)
		return nil, false
	}

	body := map[string]uint{"incomingRequestId": requestID}

	for _, port := range ports {
		url := fmt.Sprintf("http://%s:%d/handler", s.cfg.HandlerHost, port)
		result := httpx.PostJSON(ctx, url, body, s.cfg.HandlerTimeout)

		if result.OK {
			status, err := s.repo.GetStatus(requestID)
			if err != nil {
				log.Errorf("[Ingress] cannot re-read request %d status: %v", requestID, err)
				continue
			}
			if status == models.RequestStatusProcessed {
				return parseHandlerAck(result.Body), true
			}
			continue
		}

		s.audit.Write(auditlog.TypeHandlerNotProcessedRequest, map[string]interface{}{
			"handlerPort":       port,
			"incomingRequestId": requestID,
			"message":           result.Message,
		})
	}
	return nil, false
}

func parseHandlerAck(body []byte) *HandlerAck {
	var response handlerResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil
	}
	return response.Ack
}

func toAuditPayload(payload map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

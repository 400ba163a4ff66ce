package processing

import (
	"context"
	"time"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/httpx"
)

// HTTPNotifier delivers settlement events to the dispatch role over
// its external-interaction endpoint.
type HTTPNotifier struct {
	url     string
	timeout time.Duration
	audit   AuditWriter
}

func NewHTTPNotifier(url string, timeout time.Duration, audit AuditWriter) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{url: url, timeout: timeout, audit: audit}
}

// NotifySettlement posts the envelope once. Delivery failures are
// audited and dropped: the settlement is already durable and the
// dispatch role re-reads the ledger during reconciliation.
func (n *HTTPNotifier) NotifySettlement(ctx context.Context, system models.PaymentSystem, event dispatch.SettlementEvent) {
	envelope, err := dispatch.NewEnvelope(system, event)
	if err != nil {
		n.audit.Write(auditlog.TypeDispatchRequestFailed, map[string]interface{}{
			"orderId": event.OrderID,
			"message": err.Error(),
		})
		return
	}

	result := httpx.PostJSON(ctx, n.url, envelope, n.timeout)
	if !result.OK {
		n.audit.Write(auditlog.TypeDispatchRequestFailed, map[string]interface{}{
			"orderId":    event.OrderID,
			"statusCode": result.StatusCode,
			"message":    result.Message,
		})
	}
}

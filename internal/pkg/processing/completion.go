package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
	"github.com/softpaymoney/paygate/internal/pkg/moneyutil"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

// rejectedResultCode is the provider result_code for a declined
// payment. A rejected order still settles (as REJECTED) and still
// produces a settlement event so the merchant webhook fires.
const rejectedResultCode = "2"

type completionResult struct {
	orderProcessed  bool
	order           *docstore.Order
	owner           *docstore.User
	finalAmount     float64
	untouchedAmount float64
}

// executeCompletion settles the final provider callback: authenticity
// check, amount math, one serializable ledger transaction, then the
// document-store mirror. The mirror runs after the ledger commit and
// outside any transaction; on a crash in between, the ledger is
// authoritative.
func (s *Service) executeCompletion(ctx context.Context, request *models.IncomingRequest) (*completionResult, error) {
	payload, err := parseRequestPayload(request)
	if err != nil {
		return nil, err
	}

	if err := s.verifySignature(request, payload); err != nil {
		return nil, err
	}

	order, product, owner, err := s.resolveEntities(ctx, request, payload)
	if err != nil {
		return nil, err
	}

	gross, err := moneyutil.ParseMinorUnits(payload["amount"])
	if err != nil {
		s.audit.Write(auditlog.TypeAmountIncorrect, map[string]interface{}{
			"incomingRequestId": request.ID,
			"amount":            payload["amount"],
		})
		return nil, fmt.Errorf("%w: %q", pgerr.ErrInvalidAmount, payload["amount"])
	}

	if order.Payment.ID == "" {
		s.audit.Write(auditlog.TypeOrderHasNoPayment, map[string]interface{}{
			"incomingRequestId": request.ID,
			"order.id":          order.ID.Hex(),
			"productOwner.id":   product.User.Hex(),
		})
		return nil, fmt.Errorf("%w: order %s has no payment object", pgerr.ErrInternal, order.ID.Hex())
	}

	percent := commissionPercent(owner, request.PaymentSystem)
	net := moneyutil.SubtractCommission(gross, percent, order.Commission)
	pan := payload["p.maskedPan"]

	if payload["result_code"] == rejectedResultCode {
		return s.completeRejected(ctx, request, order, owner, net, pan)
	}

	final := moneyutil.SubtractRoyalty(net, order.Royalty)
	return s.completeConfirmed(ctx, request, order, product, owner, gross, final, pan)
}

// verifySignature checks the provider's signature over the canonical
// callback URL stored by the ingress role. Fails closed: a missing or
// unverifiable signature fails the request unless the test-only
// bypass is enabled.
func (s *Service) verifySignature(request *models.IncomingRequest, payload map[string]string) error {
	if s.cfg.SkipSignatureCheck {
		return nil
	}

	canonicalURL := requestMetadataValue(request, "canonicalUrl")
	verifyErr := func() error {
		if s.verifier == nil {
			return fmt.Errorf("no signature certificate loaded")
		}
		return s.verifier.Verify(payload["signature"], canonicalURL)
	}()
	if verifyErr == nil {
		return nil
	}

	if err := s.repo.UpdateRequestStatus(request.ID, models.RequestStatusFailed); err != nil {
		log.Errorf("[Processing] cannot mark request %d failed: %v", request.ID, err)
	}
	s.audit.Write(auditlog.TypeSignatureIncorrect, map[string]interface{}{
		"incomingRequestId": request.ID,
	})
	return fmt.Errorf("%w: %v", pgerr.ErrAuthenticity, verifyErr)
}

func (s *Service) resolveEntities(
	ctx context.Context,
	request *models.IncomingRequest,
	payload map[string]string,
) (*docstore.Order, *docstore.Product, *docstore.User, error) {
	paymentID := payload["o.CustomerKey"]

	order, err := s.docs.FindOrderByPaymentID(ctx, paymentID)
	if err != nil || order == nil {
		s.audit.Write(auditlog.TypeOrderNotFound, map[string]interface{}{
			"incomingRequestId": request.ID,
			"order.payment.id":  paymentID,
		})
		return nil, nil, nil, fmt.Errorf("%w: payment.id=%q", pgerr.ErrOrderNotFound, paymentID)
	}

	product, err := s.docs.FindProductByID(ctx, order.Product)
	if err != nil || product == nil {
		s.audit.Write(auditlog.TypeProductNotFound, map[string]interface{}{
			"incomingRequestId": request.ID,
			"product.id":        order.Product.Hex(),
		})
		return nil, nil, nil, fmt.Errorf("%w: id=%q", pgerr.ErrProductNotFound, order.Product.Hex())
	}

	owner, err := s.docs.FindUserByID(ctx, product.User)
	if err != nil || owner == nil {
		s.audit.Write(auditlog.TypeOwnerNotFound, map[string]interface{}{
			"incomingRequestId": request.ID,
			"productOwner.id":   product.User.Hex(),
		})
		return nil, nil, nil, fmt.Errorf("%w: id=%q", pgerr.ErrOwnerNotFound, product.User.Hex())
	}
	return order, product, owner, nil
}

// completeRejected writes the REJECTED order and its transaction to
// the ledger, mirrors the rejection, and reports a settlement event
// with a zero final amount so the merchant webhook still fires.
func (s *Service) completeRejected(
	ctx context.Context,
	request *models.IncomingRequest,
	order *docstore.Order,
	owner *docstore.User,
	net decimal.Decimal,
	pan string,
) (*completionResult, error) {
	ledgerOrder := &models.Order{
		DocOrderID:    order.ID.Hex(),
		DocProductID:  order.Product.Hex(),
		PaymentID:     order.Payment.ID,
		PaymentSystem: request.PaymentSystem,
		Amount:        decimal.NewFromFloat(order.Payment.Amount),
		Status:        models.OrderStatusRejected,
	}
	transaction := &models.PaymentTransaction{
		UserID:    owner.ID.Hex(),
		ProductID: order.Product.Hex(),
		OrderID:   order.ID.Hex(),
		Amount:    net,
		Pan:       pan,
		Type:      models.TransactionTypeReceiving,
	}
	if err := s.repo.CompleteRejectedOrder(ledgerOrder, transaction, request.ID); err != nil {
		return nil, err
	}

	s.mirrorRejected(ctx, order, owner, net, pan)

	return &completionResult{
		orderProcessed: true,
		order:          order,
		owner:          owner,
	}, nil
}

func (s *Service) completeConfirmed(
	ctx context.Context,
	request *models.IncomingRequest,
	order *docstore.Order,
	product *docstore.Product,
	owner *docstore.User,
	gross decimal.Decimal,
	final decimal.Decimal,
	pan string,
) (*completionResult, error) {
	balanceID, found, err := s.repo.FindBalanceID(owner.ID.Hex(), models.CurrencyRub)
	if err != nil {
		return nil, err
	}

	var newBalance *models.Balance
	if !found {
		docBalance, err := s.docs.FindBalance(ctx, product.User, string(models.CurrencyRub))
		if err != nil || docBalance == nil {
			s.audit.Write(auditlog.TypeOwnerBalanceNotFound, map[string]interface{}{
				"incomingRequestId": request.ID,
				"productOwner.id":   product.User.Hex(),
				"currencyType":      models.CurrencyRub,
			})
			return nil, fmt.Errorf("%w: user=%q", pgerr.ErrBalanceNotFound, product.User.Hex())
		}
		newBalance = &models.Balance{
			DocBalanceID:     docBalance.ID.Hex(),
			UserID:           docBalance.User.Hex(),
			CurrencyType:     models.Currency(docBalance.Type),
			Value:            decimal.NewFromFloat(docBalance.Balance),
			VerificationHash: docBalance.BalanceHash,
			WithdrawalAt:     docBalance.WithdrawalAt,
		}
		if docBalance.Card != nil {
			newBalance.CardID = docBalance.Card.Hex()
		}
	}

	now := time.Now()
	ledgerOrder := &models.Order{
		DocOrderID:    order.ID.Hex(),
		DocProductID:  order.Product.Hex(),
		PaymentID:     order.Payment.ID,
		PaymentSystem: request.PaymentSystem,
		Amount:        decimal.NewFromFloat(order.Payment.Amount),
		Status:        models.OrderStatusConfirmed,
		PaidAt:        &now,
	}
	transaction := &models.PaymentTransaction{
		UserID:    owner.ID.Hex(),
		ProductID: order.Product.Hex(),
		OrderID:   order.ID.Hex(),
		Amount:    final,
		Pan:       pan,
		Type:      models.TransactionTypeReceiving,
	}

	err = s.repo.CompletePaidOrder(PaidOrderParams{
		Order:       ledgerOrder,
		Transaction: transaction,
		RequestID:   request.ID,
		BalanceID:   balanceID,
		NewBalance:  newBalance,
	})
	if err != nil {
		return nil, err
	}

	grossFloat, _ := gross.Float64()
	finalFloat, _ := final.Float64()
	s.mirrorConfirmed(ctx, order, owner, grossFloat, finalFloat, pan, now)

	return &completionResult{
		orderProcessed:  true,
		order:           order,
		owner:           owner,
		finalAmount:     finalFloat,
		untouchedAmount: grossFloat,
	}, nil
}

// mirrorConfirmed writes the confirmed state into the document store.
// Mirror failures are logged, not propagated: the ledger has already
// committed and reconciliation re-reads it as authoritative.
func (s *Service) mirrorConfirmed(ctx context.Context, order *docstore.Order, owner *docstore.User, gross, final float64, pan string, paidAt time.Time) {
	if err := s.docs.ConfirmOrder(ctx, order.ID, gross, paidAt); err != nil {
		log.Errorf("[Processing] cannot mirror confirmed order %s: %v", order.ID.Hex(), err)
	}
	s.mirrorTransaction(ctx, order, owner, final, pan)
}

func (s *Service) mirrorRejected(ctx context.Context, order *docstore.Order, owner *docstore.User, net decimal.Decimal, pan string) {
	if err := s.docs.RejectOrder(ctx, order.ID); err != nil {
		log.Errorf("[Processing] cannot mirror rejected order %s: %v", order.ID.Hex(), err)
	}
	netFloat, _ := net.Float64()
	s.mirrorTransaction(ctx, order, owner, netFloat, pan)
}

func (s *Service) mirrorTransaction(ctx context.Context, order *docstore.Order, owner *docstore.User, amount float64, pan string) {
	doc := &docstore.Transaction{
		Type:    string(models.TransactionTypeReceiving),
		User:    owner.ID,
		Product: order.Product,
		Order:   order.ID,
		Amount:  amount,
		Pan:     pan,
	}
	if err := s.docs.InsertTransaction(ctx, doc); err != nil {
		log.Errorf("[Processing] cannot mirror transaction for order %s: %v", order.ID.Hex(), err)
	}
}

// commissionPercent returns the owner's commission override for the
// payment system, or the platform default.
func commissionPercent(owner *docstore.User, system models.PaymentSystem) decimal.Decimal {
	if owner.Percents != nil {
		if value, ok := owner.Percents[string(system)]; ok {
			return decimal.NewFromFloat(value)
		}
	}
	return decimal.NewFromInt(moneyutil.DefaultCommissionPercent)
}

func parseRequestPayload(request *models.IncomingRequest) (map[string]string, error) {
	var payload map[string]string
	if err := json.Unmarshal([]byte(request.Payload), &payload); err != nil {
		return nil, fmt.Errorf("%w: payload of incoming request id=%d cannot be parsed", pgerr.ErrInternal, request.ID)
	}
	return payload, nil
}

func requestMetadataValue(request *models.IncomingRequest, key string) string {
	if request.Metadata == "" {
		return ""
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(request.Metadata), &metadata); err != nil {
		return ""
	}
	return metadata[key]
}

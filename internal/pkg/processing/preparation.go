package processing

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
)

// Provider result codes for the pre-authorization answer.
const (
	availCodeAccept = 1
	availCodeRefuse = 2

	availDescAccept = "accept payment"
	availDescRefuse = "Unable to accept this payment"

	currencyCodeRub  = 643
	currencyExponent = 2
)

type availResult struct {
	Code int    `xml:"code"`
	Desc string `xml:"desc"`
}

type availAccountAmount struct {
	ID       string `xml:"id"`
	Amount   int64  `xml:"amount"`
	Currency int    `xml:"currency"`
	Exponent int    `xml:"exponent"`
}

type availPurchase struct {
	ShortDesc     string             `xml:"shortDesc"`
	LongDesc      string             `xml:"longDesc"`
	AccountAmount availAccountAmount `xml:"account-amount"`
}

type availCard struct {
	TrxID   string `xml:"id-trx,omitempty"`
	Present string `xml:"present"`
}

// paymentAvailResponse is the provider's expected answer to the
// pre-authorization check.
type paymentAvailResponse struct {
	XMLName  xml.Name       `xml:"payment-avail-response"`
	Result   availResult    `xml:"result"`
	Purchase *availPurchase `xml:"purchase,omitempty"`
	Card     *availCard     `xml:"card,omitempty"`
}

// registerPaymentResponse acknowledges the final settlement callback.
type registerPaymentResponse struct {
	XMLName xml.Name    `xml:"register-payment-response"`
	Result  availResult `xml:"result"`
}

func completionAck() *Ack {
	return xmlAck(registerPaymentResponse{
		Result: availResult{Code: availCodeAccept, Desc: availDescAccept},
	})
}

func preparationRefuseAck() *Ack {
	return xmlAck(paymentAvailResponse{
		Result: availResult{Code: availCodeRefuse, Desc: availDescRefuse},
	})
}

func xmlAck(v interface{}) *Ack {
	body, err := xml.Marshal(v)
	if err != nil {
		log.Errorf("[Processing] cannot marshal provider ack: %v", err)
		body = []byte{}
	}
	return &Ack{ContentType: ContentTypeXML, Body: string(body)}
}

// executePreparation answers the provider's pre-authorization check.
// It never settles anything: only the final callback mutates state.
// Refusals are answered in-band with a refuse code and leave the
// request out of PROCESSED, so the ingress role reports the check as
// not handled.
func (s *Service) executePreparation(ctx context.Context, request *models.IncomingRequest) (*Ack, error) {
	payload, err := parseRequestPayload(request)
	if err != nil {
		return nil, err
	}

	status := payload["o.PaymentStatus"]
	if status != "new" && status != "auto" {
		return preparationRefuseAck(), nil
	}

	paymentID := payload["o.CustomerKey"]
	order, err := s.docs.FindOrderByPaymentID(ctx, paymentID)
	if err != nil || order == nil {
		s.audit.Write(auditlog.TypeOrderNotFound, map[string]interface{}{
			"incomingRequestId": request.ID,
			"order.payment.id":  paymentID,
		})
		return preparationRefuseAck(), nil
	}

	if markErr := s.repo.UpdateRequestStatus(request.ID, models.RequestStatusProcessed); markErr != nil {
		return nil, markErr
	}

	return xmlAck(s.availResponse(order, status)), nil
}

func (s *Service) availResponse(order *docstore.Order, paymentStatus string) paymentAvailResponse {
	minorUnits := decimal.NewFromFloat(order.Payment.Amount).Mul(decimal.NewFromInt(100)).IntPart()
	response := paymentAvailResponse{
		Result: availResult{Code: availCodeAccept, Desc: availDescAccept},
		Purchase: &availPurchase{
			ShortDesc: fmt.Sprintf("Order %s", order.ID.Hex()),
			LongDesc:  fmt.Sprintf("Payment for order %s", order.ID.Hex()),
			AccountAmount: availAccountAmount{
				ID:       s.cfg.MerchantID,
				Amount:   minorUnits,
				Currency: currencyCodeRub,
				Exponent: currencyExponent,
			},
		},
	}
	if paymentStatus == "auto" {
		response.Card = &availCard{
			TrxID:   order.Payment.TrxID,
			Present: "N",
		}
	}
	return response
}

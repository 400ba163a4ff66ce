package processing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

const (
	testOrderHex   = "64f1a2b3c4d5e6f708192a3b"
	testProductHex = "64f1a2b3c4d5e6f708192a3c"
	testOwnerHex   = "64f1a2b3c4d5e6f708192a3d"
	testBalanceHex = "64f1a2b3c4d5e6f708192a3e"
)

type fakeProcessingRepo struct {
	requests  map[uint]*models.IncomingRequest
	statuses  map[uint]models.IncomingRequestStatus
	balanceID uint

	rejectedOrder *models.Order
	rejectedTx    *models.PaymentTransaction
	paid          *PaidOrderParams
}

func newFakeProcessingRepo() *fakeProcessingRepo {
	return &fakeProcessingRepo{
		requests: make(map[uint]*models.IncomingRequest),
		statuses: make(map[uint]models.IncomingRequestStatus),
	}
}

func (f *fakeProcessingRepo) GetRequest(id uint) (*models.IncomingRequest, error) {
	return f.requests[id], nil
}

func (f *fakeProcessingRepo) UpdateRequestStatus(id uint, status models.IncomingRequestStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeProcessingRepo) FindBalanceID(userID string, currency models.Currency) (uint, bool, error) {
	if f.balanceID == 0 {
		return 0, false, nil
	}
	return f.balanceID, true, nil
}

func (f *fakeProcessingRepo) CompleteRejectedOrder(order *models.Order, transaction *models.PaymentTransaction, requestID uint) error {
	f.rejectedOrder = order
	f.rejectedTx = transaction
	f.statuses[requestID] = models.RequestStatusProcessed
	return nil
}

func (f *fakeProcessingRepo) CompletePaidOrder(params PaidOrderParams) error {
	f.paid = &params
	f.statuses[params.RequestID] = models.RequestStatusProcessed
	return nil
}

type fakeDocs struct {
	order   *docstore.Order
	product *docstore.Product
	owner   *docstore.User
	balance *docstore.PaymentBalance

	confirmedAmount float64
	rejected        bool
	insertedTx      *docstore.Transaction
}

func (f *fakeDocs) FindOrderByPaymentID(ctx context.Context, paymentID string) (*docstore.Order, error) {
	if f.order == nil || f.order.Payment.ID != paymentID {
		return nil, nil
	}
	return f.order, nil
}

func (f *fakeDocs) FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error) {
	return f.product, nil
}

func (f *fakeDocs) FindUserByID(ctx context.Context, id docstore.ObjectID) (*docstore.User, error) {
	return f.owner, nil
}

func (f *fakeDocs) FindBalance(ctx context.Context, userID docstore.ObjectID, currency string) (*docstore.PaymentBalance, error) {
	return f.balance, nil
}

func (f *fakeDocs) ConfirmOrder(ctx context.Context, orderID docstore.ObjectID, amount float64, paidAt time.Time) error {
	f.confirmedAmount = amount
	return nil
}

func (f *fakeDocs) RejectOrder(ctx context.Context, orderID docstore.ObjectID) error {
	f.rejected = true
	return nil
}

func (f *fakeDocs) InsertTransaction(ctx context.Context, tx *docstore.Transaction) error {
	f.insertedTx = tx
	return nil
}

type fakeNotifier struct {
	events chan dispatch.SettlementEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan dispatch.SettlementEvent, 1)}
}

func (f *fakeNotifier) NotifySettlement(ctx context.Context, system models.PaymentSystem, event dispatch.SettlementEvent) {
	f.events <- event
}

func (f *fakeNotifier) await(t *testing.T) dispatch.SettlementEvent {
	t.Helper()
	select {
	case event := <-f.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no settlement event emitted")
		return dispatch.SettlementEvent{}
	}
}

type recordingAudit struct {
	types []auditlog.Type
}

func (r *recordingAudit) Write(t auditlog.Type, payload map[string]interface{}) {
	r.types = append(r.types, t)
}

func mustObjectID(t *testing.T, hex string) docstore.ObjectID {
	t.Helper()
	id, err := docstore.ParseObjectID(hex)
	require.NoError(t, err)
	return id
}

func testDocs(t *testing.T) *fakeDocs {
	orderID := mustObjectID(t, testOrderHex)
	productID := mustObjectID(t, testProductHex)
	ownerID := mustObjectID(t, testOwnerHex)

	return &fakeDocs{
		order: &docstore.Order{
			ID:         orderID,
			Product:    productID,
			Status:     "CREATED",
			Commission: true,
			Royalty:    "20",
			Payment:    docstore.OrderPayment{ID: "PAY-100", Amount: 300},
		},
		product: &docstore.Product{ID: productID, User: ownerID, Name: "Course"},
		owner:   &docstore.User{ID: ownerID},
	}
}

func completionRequest(t *testing.T, payload map[string]string) *models.IncomingRequest {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.IncomingRequest{
		ID:                 1,
		Payload:            string(body),
		Metadata:           "{}",
		Status:             models.RequestStatusReceived,
		PaymentSystem:      models.PaymentSystemGazprom,
		HandlerDestination: models.DestinationCompletion,
	}
}

func newTestService(repo *fakeProcessingRepo, docs *fakeDocs, notifier *fakeNotifier, audit *recordingAudit) *Service {
	return NewService(repo, docs, nil, notifier, audit, Config{
		MerchantID:         "merchant-1",
		SkipSignatureCheck: true,
	})
}

func TestProcessRequestNotFound(t *testing.T) {
	repo := newFakeProcessingRepo()
	audit := &recordingAudit{}
	service := newTestService(repo, &fakeDocs{}, newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 404)
	assert.ErrorIs(t, err, pgerr.ErrRequestNotFound)
	assert.Contains(t, audit.types, auditlog.TypeIncomingRequestNotFound)
}

func TestProcessTerminalRequestRejected(t *testing.T) {
	repo := newFakeProcessingRepo()
	request := completionRequest(t, map[string]string{"o.CustomerKey": "PAY-100"})
	request.Status = models.RequestStatusProcessed
	repo.requests[1] = request

	audit := &recordingAudit{}
	service := newTestService(repo, &fakeDocs{}, newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrAlreadyProcessed)
	assert.Contains(t, audit.types, auditlog.TypeRequestProcessedOrFailed)
}

func TestProcessUnknownPaymentSystem(t *testing.T) {
	repo := newFakeProcessingRepo()
	request := completionRequest(t, map[string]string{"o.CustomerKey": "PAY-100"})
	request.PaymentSystem = models.PaymentSystem("SBER")
	repo.requests[1] = request

	audit := &recordingAudit{}
	service := newTestService(repo, &fakeDocs{}, newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrUnknownPaymentSystem)
	assert.Contains(t, audit.types, auditlog.TypeUnknownPaymentSystem)
}

func TestCompletionConfirmedSettlement(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.balanceID = 7
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
		"result_code":   "1",
		"p.maskedPan":   "4444-XXXX-1111",
	})

	docs := testDocs(t)
	notifier := newFakeNotifier()
	audit := &recordingAudit{}
	service := newTestService(repo, docs, notifier, audit)

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeXML, ack.ContentType)
	assert.Contains(t, ack.Body, "register-payment-response")
	assert.Contains(t, ack.Body, "<code>1</code>")

	require.NotNil(t, repo.paid)
	assert.Equal(t, models.OrderStatusConfirmed, repo.paid.Order.Status)
	assert.Equal(t, "PAY-100", repo.paid.Order.PaymentID)
	assert.Equal(t, uint(7), repo.paid.BalanceID)
	assert.Nil(t, repo.paid.NewBalance)
	// 300 gross, 8% included commission, then the 20 royalty.
	assert.True(t, repo.paid.Transaction.Amount.Equal(decimal.RequireFromString("257.78")),
		"got %s", repo.paid.Transaction.Amount)
	assert.Equal(t, "4444-XXXX-1111", repo.paid.Transaction.Pan)
	assert.Equal(t, models.RequestStatusProcessed, repo.statuses[1])

	event := notifier.await(t)
	assert.Equal(t, testOrderHex, event.OrderID)
	assert.Equal(t, testOwnerHex, event.ProductOwnerID)
	assert.InDelta(t, 257.78, event.FinalAmount, 0.001)
	assert.InDelta(t, 300.0, event.UntouchedAmount, 0.001)

	assert.InDelta(t, 300.0, docs.confirmedAmount, 0.001)
	require.NotNil(t, docs.insertedTx)
	assert.InDelta(t, 257.78, docs.insertedTx.Amount, 0.001)
}

func TestCompletionSeedsBalanceFromDocumentStore(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
	})

	docs := testDocs(t)
	docs.balance = &docstore.PaymentBalance{
		ID:          mustObjectID(t, testBalanceHex),
		User:        mustObjectID(t, testOwnerHex),
		Type:        "MONEY",
		Balance:     1500,
		BalanceHash: "abc123",
	}
	notifier := newFakeNotifier()
	service := newTestService(repo, docs, notifier, &recordingAudit{})

	_, err := service.Process(context.Background(), 1)
	require.NoError(t, err)

	require.NotNil(t, repo.paid)
	require.NotNil(t, repo.paid.NewBalance)
	assert.Equal(t, testBalanceHex, repo.paid.NewBalance.DocBalanceID)
	assert.Equal(t, models.CurrencyRub, repo.paid.NewBalance.CurrencyType)
	assert.True(t, repo.paid.NewBalance.Value.Equal(decimal.NewFromInt(1500)))
	notifier.await(t)
}

func TestCompletionMissingBalanceFails(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
	})

	docs := testDocs(t)
	audit := &recordingAudit{}
	service := newTestService(repo, docs, newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrBalanceNotFound)
	assert.Contains(t, audit.types, auditlog.TypeOwnerBalanceNotFound)
	assert.Nil(t, repo.paid)
}

func TestCompletionRejectedPayment(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
		"result_code":   "2",
	})

	docs := testDocs(t)
	notifier := newFakeNotifier()
	service := newTestService(repo, docs, notifier, &recordingAudit{})

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, ack.Body, "register-payment-response")

	require.NotNil(t, repo.rejectedOrder)
	assert.Equal(t, models.OrderStatusRejected, repo.rejectedOrder.Status)
	// The rejected transaction carries the pre-royalty amount.
	assert.True(t, repo.rejectedTx.Amount.Equal(decimal.RequireFromString("277.78")),
		"got %s", repo.rejectedTx.Amount)
	assert.Nil(t, repo.paid)
	assert.True(t, docs.rejected)

	event := notifier.await(t)
	assert.Zero(t, event.FinalAmount)
	assert.Zero(t, event.UntouchedAmount)
}

func TestCompletionInvalidAmount(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "not-a-number",
	})

	docs := testDocs(t)
	audit := &recordingAudit{}
	service := newTestService(repo, docs, newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrInvalidAmount)
	assert.Contains(t, audit.types, auditlog.TypeAmountIncorrect)
}

func TestCompletionOrderNotFound(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "UNKNOWN",
		"amount":        "30000",
	})

	audit := &recordingAudit{}
	service := newTestService(repo, testDocs(t), newFakeNotifier(), audit)

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrOrderNotFound)
	assert.Contains(t, audit.types, auditlog.TypeOrderNotFound)
}

func TestCompletionCommissionOverride(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.balanceID = 7
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
	})

	docs := testDocs(t)
	docs.order.Royalty = ""
	docs.owner.Percents = map[string]float64{"GAZPROM": 10}
	notifier := newFakeNotifier()
	service := newTestService(repo, docs, notifier, &recordingAudit{})

	_, err := service.Process(context.Background(), 1)
	require.NoError(t, err)

	// 300 − 300·0.1/1.1 adjusted up at the cent boundary.
	require.NotNil(t, repo.paid)
	assert.True(t, repo.paid.Transaction.Amount.Equal(decimal.RequireFromString("272.73")),
		"got %s", repo.paid.Transaction.Amount)
	notifier.await(t)
}

func TestCompletionFailsClosedWithoutCertificate(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = completionRequest(t, map[string]string{
		"o.CustomerKey": "PAY-100",
		"amount":        "30000",
	})

	audit := &recordingAudit{}
	service := NewService(repo, testDocs(t), nil, newFakeNotifier(), audit, Config{MerchantID: "merchant-1"})

	_, err := service.Process(context.Background(), 1)
	assert.ErrorIs(t, err, pgerr.ErrAuthenticity)
	assert.Contains(t, audit.types, auditlog.TypeSignatureIncorrect)
	assert.Equal(t, models.RequestStatusFailed, repo.statuses[1])
}

func preparationRequest(t *testing.T, payload map[string]string) *models.IncomingRequest {
	t.Helper()
	request := completionRequest(t, payload)
	request.HandlerDestination = models.DestinationPreparation
	return request
}

func TestPreparationAcceptsNewPayment(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = preparationRequest(t, map[string]string{
		"o.CustomerKey":   "PAY-100",
		"o.PaymentStatus": "new",
	})

	service := newTestService(repo, testDocs(t), newFakeNotifier(), &recordingAudit{})

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeXML, ack.ContentType)
	assert.Contains(t, ack.Body, "payment-avail-response")
	assert.Contains(t, ack.Body, "<code>1</code>")
	assert.Contains(t, ack.Body, "<amount>30000</amount>")
	assert.Contains(t, ack.Body, "<currency>643</currency>")
	assert.NotContains(t, ack.Body, "id-trx")
	assert.Equal(t, models.RequestStatusProcessed, repo.statuses[1])
}

func TestPreparationRecurrentCardBlock(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = preparationRequest(t, map[string]string{
		"o.CustomerKey":   "PAY-100",
		"o.PaymentStatus": "auto",
	})

	docs := testDocs(t)
	docs.order.Payment.TrxID = "trx-555"
	service := newTestService(repo, docs, newFakeNotifier(), &recordingAudit{})

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, ack.Body, "<id-trx>trx-555</id-trx>")
	assert.Contains(t, ack.Body, "<present>N</present>")
}

func TestPreparationRefusesUnknownStatus(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = preparationRequest(t, map[string]string{
		"o.CustomerKey":   "PAY-100",
		"o.PaymentStatus": "cancelled",
	})

	service := newTestService(repo, testDocs(t), newFakeNotifier(), &recordingAudit{})

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, ack.Body, "<code>2</code>")
	assert.NotEqual(t, models.RequestStatusProcessed, repo.statuses[1])
}

func TestPreparationRefusesMissingOrder(t *testing.T) {
	repo := newFakeProcessingRepo()
	repo.requests[1] = preparationRequest(t, map[string]string{
		"o.CustomerKey":   "UNKNOWN",
		"o.PaymentStatus": "new",
	})

	audit := &recordingAudit{}
	service := newTestService(repo, testDocs(t), newFakeNotifier(), audit)

	ack, err := service.Process(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, ack.Body, "<code>2</code>")
	assert.Contains(t, audit.types, auditlog.TypeOrderNotFound)
}

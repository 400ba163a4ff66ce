package crm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
)

const (
	testOrderHex   = "64f1a2b3c4d5e6f708192a3b"
	testProductHex = "64f1a2b3c4d5e6f708192a3c"
)

func TestDealSearchDate(t *testing.T) {
	paidAt := time.Date(2025, 3, 20, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "2025-03-06", DealSearchDate(paidAt))
}

func TestDealCurrency(t *testing.T) {
	assert.Equal(t, "RUB", DealCurrency(models.PaymentSystemGazprom))
	assert.Equal(t, "RUB", DealCurrency(models.PaymentSystemTinkoff))
	assert.Equal(t, "USD", DealCurrency(models.PaymentSystem("STRIPE")))
}

type fakeCRMDocs struct {
	order   *docstore.Order
	product *docstore.Product
}

func (f *fakeCRMDocs) FindOrderByID(ctx context.Context, id docstore.ObjectID) (*docstore.Order, error) {
	return f.order, nil
}

func (f *fakeCRMDocs) FindProductByID(ctx context.Context, id docstore.ObjectID) (*docstore.Product, error) {
	return f.product, nil
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

func crmDocs(t *testing.T, crmURL string) *fakeCRMDocs {
	t.Helper()
	paidAt := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	return &fakeCRMDocs{
		order: &docstore.Order{
			ID:      mustObjectID(t, testOrderHex),
			Product: mustObjectID(t, testProductHex),
			Status:  "CONFIRMED",
			Payment: docstore.OrderPayment{ID: "PAY-100", Amount: 300},
			Email:   "buyer@example.com",
			PaidAt:  &paidAt,
		},
		product: &docstore.Product{
			ID:   mustObjectID(t, testProductHex),
			User: mustObjectID(t, testProductHex),
			CRM: docstore.ProductCRM{
				Status:  true,
				URL:     crmURL,
				APIKey:  "key-1",
				Product: "course-42",
			},
		},
	}
}

// crmServer emulates the account API: the deal-export search, the
// export report (not ready until readyAfter polls have passed), and
// the deal upsert. Pushed deals are decoded into deal/user.
type crmServer struct {
	*httptest.Server

	exportRows [][]interface{}
	readyAfter int32

	polls  int32
	pushes int32
	deal   Deal
	user   DealUser
}

func newCRMServer(t *testing.T) *crmServer {
	t.Helper()
	s := &crmServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/pl/api/account/deals":
			assert.Equal(t, "key-1", r.URL.Query().Get("key"))
			assert.Equal(t, "new", r.URL.Query().Get("status"))
			assert.Equal(t, "2025-03-06", r.URL.Query().Get("created_at[from]"))
			fmt.Fprint(w, `{"success":true,"info":{"export_id":77}}`)

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/pl/api/account/exports/"):
			assert.Equal(t, "/pl/api/account/exports/77", r.URL.Path)
			if atomic.AddInt32(&s.polls, 1) <= s.readyAfter {
				fmt.Fprint(w, `{"success":true,"info":{}}`)
				return
			}
			body, err := json.Marshal(map[string]interface{}{
				"success": true,
				"info":    map[string]interface{}{"items": s.exportRows},
			})
			require.NoError(t, err)
			w.Write(body)

		case r.Method == http.MethodPost && r.URL.Path == "/pl/api/deals":
			atomic.AddInt32(&s.pushes, 1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "add", r.PostFormValue("action"))
			assert.Equal(t, "key-1", r.PostFormValue("key"))

			raw, err := base64.StdEncoding.DecodeString(r.PostFormValue("params"))
			require.NoError(t, err)
			var params struct {
				User DealUser `json:"user"`
				Deal Deal     `json:"deal"`
			}
			require.NoError(t, json.Unmarshal(raw, &params))
			s.deal = params.Deal
			s.user = params.User
			w.WriteHeader(http.StatusOK)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestExecutor(docs Docs, audit AuditWriter) *Executor {
	client := NewClient(5 * time.Second)
	client.poll = time.Millisecond
	return NewExecutor(client, docs, audit)
}

func TestExecutorPushesFreshDeal(t *testing.T) {
	server := newCRMServer(t)
	server.exportRows = [][]interface{}{}

	docs := crmDocs(t, server.URL)
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex, FinalAmount: 257.78, UntouchedAmount: 300}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))

	assert.Equal(t, "PAY-100", server.deal.Number)
	assert.Equal(t, "course-42", server.deal.Product)
	assert.Equal(t, "RUB", server.deal.Currency)
	assert.Equal(t, "payed", server.deal.Status)
	assert.Equal(t, "accepted", server.deal.PaymentStatus)
	assert.True(t, server.deal.IsPaid)
	assert.Equal(t, "buyer@example.com", server.user.Email)
}

func TestExecutorReusesPriorDealNumber(t *testing.T) {
	server := newCRMServer(t)
	server.readyAfter = 2
	server.exportRows = [][]interface{}{
		{"row", "D-111", "", "", "other@example.com", "", "", "", "course-42"},
		{"row", "D-555", "", "", "buyer@example.com", "", "", "", "course-42"},
		{"row", "D-777", "", "", "buyer@example.com", "", "", "", "course-9"},
	}

	docs := crmDocs(t, server.URL)
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex, FinalAmount: 257.78, UntouchedAmount: 300}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))

	assert.Equal(t, "D-555", server.deal.Number)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&server.polls), int32(3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&server.pushes))
}

func TestExecutorMatchesNumericExportColumns(t *testing.T) {
	server := newCRMServer(t)
	server.exportRows = [][]interface{}{
		{"row", float64(4242), "", "", "buyer@example.com", "", "", "", "course-42"},
	}

	docs := crmDocs(t, server.URL)
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex, UntouchedAmount: 300}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))

	assert.Equal(t, "4242", server.deal.Number)
}

func TestExecutorPushesFreshDealWhenSearchFails(t *testing.T) {
	var pushed Deal
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pl/api/deals" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseForm())
		raw, err := base64.StdEncoding.DecodeString(r.PostFormValue("params"))
		require.NoError(t, err)
		var params struct {
			Deal Deal `json:"deal"`
		}
		require.NoError(t, json.Unmarshal(raw, &params))
		pushed = params.Deal
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	docs := crmDocs(t, server.URL)
	audit := &recordingAudit{}
	executor := newTestExecutor(docs, audit)

	event := dispatch.SettlementEvent{OrderID: testOrderHex, UntouchedAmount: 300}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))

	assert.Contains(t, audit.types, auditlog.TypeCRMSearchFailed)
	assert.Equal(t, "PAY-100", pushed.Number)
}

func TestExecutorSkipsDisabledCRM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("disabled CRM must not be called")
	}))
	defer server.Close()

	docs := crmDocs(t, server.URL)
	docs.product.CRM.Status = false
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))
}

func TestExecutorSkipsFractionalAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("fractional amounts must not be pushed")
	}))
	defer server.Close()

	docs := crmDocs(t, server.URL)
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex, UntouchedAmount: 299.5}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))
}

func TestExecutorSkipsUnconfirmedOrder(t *testing.T) {
	docs := crmDocs(t, "http://127.0.0.1:1")
	docs.order.Status = "REJECTED"
	executor := newTestExecutor(docs, &recordingAudit{})

	event := dispatch.SettlementEvent{OrderID: testOrderHex}
	require.NoError(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))
}

func TestExecutorAuditsPushFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	docs := crmDocs(t, server.URL)
	audit := &recordingAudit{}
	executor := newTestExecutor(docs, audit)

	event := dispatch.SettlementEvent{OrderID: testOrderHex, UntouchedAmount: 300}
	assert.Error(t, executor.Handle(context.Background(), models.PaymentSystemGazprom, event))
	assert.Contains(t, audit.types, auditlog.TypeCRMRequestFailed)
}

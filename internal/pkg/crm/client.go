// Package crm syncs settled orders into the merchant's CRM account.
// A new payment first searches the account's deal export for an
// overlapping prior deal of the same buyer and offer; a found deal
// number is reused so the payment attaches to the existing deal
// instead of opening a duplicate. The sync is best-effort and never
// blocks settlement.
package crm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/softpaymoney/paygate/internal/pkg/httpx"
)

const (
	dealsPath   = "/pl/api/deals"
	exportPath  = "/pl/api/account/deals"
	reportsPath = "/pl/api/account/exports"

	exportPollAttempts      = 12
	defaultExportPollPeriod = 500 * time.Millisecond
)

// Deal-export rows are positional arrays; these are the columns the
// prior-deal search reads.
const (
	exportColDealNumber = 1
	exportColEmail      = 4
	exportColProduct    = 8
)

// DealUser identifies the buyer inside the CRM deal.
type DealUser struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Deal is one CRM deal record built from a settled order. An empty
// Number lets the CRM open a fresh deal; a prior deal's number makes
// it record the payment on that deal.
type Deal struct {
	Number        string  `json:"deal_number"`
	Product       string  `json:"offer_code,omitempty"`
	Cost          float64 `json:"deal_cost"`
	Currency      string  `json:"deal_currency"`
	Status        string  `json:"deal_status"`
	PaymentType   string  `json:"payment_type"`
	PaymentStatus string  `json:"payment_status"`
	IsPaid        bool    `json:"deal_is_paid"`
	Comment       string  `json:"deal_comment,omitempty"`
	PartnerEmail  string  `json:"partner_email,omitempty"`
}

type dealSystem struct {
	RefreshIfExists int `json:"refresh_if_exists"`
	MultipleOffers  int `json:"multiple_offers"`
}

type dealParams struct {
	User   DealUser   `json:"user"`
	System dealSystem `json:"system"`
	Deal   Deal       `json:"deal"`
}

type exportResponse struct {
	Success bool `json:"success"`
	Info    struct {
		ExportID int64           `json:"export_id"`
		Items    [][]interface{} `json:"items"`
	} `json:"info"`
}

// Client talks to one CRM account.
type Client struct {
	timeout time.Duration
	poll    time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{timeout: timeout, poll: defaultExportPollPeriod}
}

// FindPriorDeal searches the account's deal export for a deal created
// since the given date that belongs to the same buyer email and
// offer, and returns its number. An empty number with a nil error
// means no overlapping deal exists.
func (c *Client) FindPriorDeal(ctx context.Context, account, apiKey, since, email, product string) (string, error) {
	exportID, err := c.startDealExport(ctx, account, apiKey, since)
	if err != nil {
		return "", err
	}
	items, err := c.pollDealExport(ctx, account, apiKey, exportID)
	if err != nil {
		return "", err
	}
	for _, row := range items {
		if len(row) <= exportColProduct {
			continue
		}
		if exportField(row, exportColEmail) == email && exportField(row, exportColProduct) == product {
			return exportField(row, exportColDealNumber), nil
		}
	}
	return "", nil
}

// startDealExport asks the CRM to export the account's new deals
// created since the given date and returns the export id to poll.
func (c *Client) startDealExport(ctx context.Context, account, apiKey, since string) (int64, error) {
	values := url.Values{}
	values.Set("key", apiKey)
	values.Set("status", "new")
	values.Set("created_at[from]", since)

	result := httpx.Get(ctx, accountURL(account, exportPath), values, c.timeout)
	if !result.OK {
		return 0, fmt.Errorf("deal export request failed with status %d: %s", result.StatusCode, result.Message)
	}
	var resp exportResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return 0, err
	}
	if !resp.Success || resp.Info.ExportID == 0 {
		return 0, fmt.Errorf("crm did not start a deal export")
	}
	return resp.Info.ExportID, nil
}

// pollDealExport fetches the export until the CRM has materialized
// its rows. An export that never materializes is an error; an export
// with zero rows is a valid empty result.
func (c *Client) pollDealExport(ctx context.Context, account, apiKey string, exportID int64) ([][]interface{}, error) {
	endpoint := accountURL(account, fmt.Sprintf("%s/%d", reportsPath, exportID))
	values := url.Values{}
	values.Set("key", apiKey)

	for attempt := 0; attempt < exportPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.poll):
			}
		}

		result := httpx.Get(ctx, endpoint, values, c.timeout)
		if !result.OK {
			return nil, fmt.Errorf("deal export %d fetch failed with status %d: %s", exportID, result.StatusCode, result.Message)
		}
		var resp exportResponse
		if err := json.Unmarshal(result.Body, &resp); err != nil {
			return nil, err
		}
		if resp.Success && resp.Info.Items != nil {
			return resp.Info.Items, nil
		}
	}
	return nil, fmt.Errorf("deal export %d not ready after %d polls", exportID, exportPollAttempts)
}

// PushDeal upserts the deal at the account's API endpoint.
func (c *Client) PushDeal(ctx context.Context, account, apiKey string, user DealUser, deal Deal) error {
	raw, err := json.Marshal(dealParams{
		User:   user,
		System: dealSystem{RefreshIfExists: 1, MultipleOffers: 1},
		Deal:   deal,
	})
	if err != nil {
		return err
	}

	values := url.Values{}
	values.Set("action", "add")
	values.Set("key", apiKey)
	values.Set("params", base64.StdEncoding.EncodeToString(raw))

	result := httpx.PostForm(ctx, accountURL(account, dealsPath), values, c.timeout)
	if !result.OK {
		return fmt.Errorf("crm request failed with status %d: %s", result.StatusCode, result.Message)
	}
	return nil
}

// accountURL builds an API endpoint from the account value stored on
// the product, usually a bare host (e.g. shop.crm.example).
func accountURL(account, path string) string {
	if !strings.Contains(account, "://") {
		account = "https://" + account
	}
	return strings.TrimSuffix(account, "/") + path
}

// exportField reads one positional column as a string; the export
// serializes numbers as JSON numbers.
func exportField(row []interface{}, index int) string {
	switch v := row[index].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

package docstore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID aliases the document-store id type so callers outside this
// package do not import the driver directly.
type ObjectID = primitive.ObjectID

// ParseObjectID converts a hex string into an ObjectID.
func ParseObjectID(hex string) (ObjectID, error) {
	return primitive.ObjectIDFromHex(hex)
}

// OrderPayment is the embedded payment block of an order document.
type OrderPayment struct {
	ID     string  `bson:"id" json:"id"`
	TrxID  string  `bson:"trx_id,omitempty" json:"trx_id,omitempty"`
	Amount float64 `bson:"amount" json:"amount"`
	Type   string  `bson:"type" json:"type"`
}

// OrderRecurrent describes a recurring-payment subscription state.
type OrderRecurrent struct {
	Status bool   `bson:"status" json:"status"`
	Rebill string `bson:"rebill,omitempty" json:"rebill,omitempty"`
}

// OrderPromocode references the promocode applied to the order.
type OrderPromocode struct {
	ID string `bson:"id" json:"id"`
}

// OrderQuestion is a buyer questionnaire answer attached to an order.
type OrderQuestion struct {
	Name   string `bson:"name" json:"name"`
	Answer string `bson:"answer" json:"answer"`
}

// OrderReceipt holds the tax-receipt issuer outcome.
type OrderReceipt struct {
	UUID   string `bson:"uuid,omitempty" json:"uuid,omitempty"`
	Status string `bson:"status,omitempty" json:"status,omitempty"`
}

// Order is the mutable order entity.
type Order struct {
	ID         ObjectID        `bson:"_id,omitempty" json:"id"`
	Product    ObjectID        `bson:"product" json:"product"`
	Status     string          `bson:"status" json:"status"`
	Payment    OrderPayment    `bson:"payment" json:"payment"`
	Email      string          `bson:"email,omitempty" json:"email,omitempty"`
	Phone      string          `bson:"phone,omitempty" json:"phone,omitempty"`
	Payer      string          `bson:"payer,omitempty" json:"payer,omitempty"`
	Royalty    string          `bson:"royalty,omitempty" json:"royalty,omitempty"`
	Commission bool            `bson:"commission" json:"commission"`
	Recurrent  OrderRecurrent  `bson:"recurrent,omitempty" json:"recurrent,omitempty"`
	Promocode  *OrderPromocode `bson:"promocode,omitempty" json:"promocode,omitempty"`
	Questions  []OrderQuestion `bson:"questions,omitempty" json:"questions,omitempty"`
	CustomData interface{}     `bson:"customData,omitempty" json:"customData,omitempty"`
	Receipt    OrderReceipt    `bson:"receipt,omitempty" json:"receipt,omitempty"`
	PaidAt     *time.Time      `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
}

// ProductPromocode is a promocode definition on a product.
type ProductPromocode struct {
	ID   string `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
	Type string `bson:"type" json:"type"`
}

// ProductCRM is the product's CRM integration settings.
type ProductCRM struct {
	Status  bool   `bson:"status" json:"status"`
	URL     string `bson:"url,omitempty" json:"url,omitempty"`
	APIKey  string `bson:"api,omitempty" json:"api,omitempty"`
	Product string `bson:"product,omitempty" json:"product,omitempty"`
}

// Product is the sellable product entity.
type Product struct {
	ID         ObjectID           `bson:"_id,omitempty" json:"id"`
	User       ObjectID           `bson:"user" json:"user"`
	Name       string             `bson:"name" json:"name"`
	Link       string             `bson:"link,omitempty" json:"link,omitempty"`
	Promocodes []ProductPromocode `bson:"promocodes,omitempty" json:"promocodes,omitempty"`
	CRM        ProductCRM         `bson:"getcourse,omitempty" json:"getcourse,omitempty"`
}

// User is the product-owner entity. Percents carries per payment
// system commission overrides keyed by the payment system tag.
type User struct {
	ID       ObjectID           `bson:"_id,omitempty" json:"id"`
	Email    string             `bson:"email,omitempty" json:"email,omitempty"`
	Percents map[string]float64 `bson:"percents,omitempty" json:"percents,omitempty"`
}

// Webhook is a merchant callback configuration.
type Webhook struct {
	ID       ObjectID `bson:"_id,omitempty" json:"id"`
	User     ObjectID `bson:"user" json:"user"`
	Link     string   `bson:"link" json:"link"`
	Secret   string   `bson:"secret" json:"secret"`
	Verified bool     `bson:"verified" json:"verified"`
}

// PaymentBalance is the owner balance record in the payments
// collection. The ledger Balance row is seeded from it on the first
// settlement.
type PaymentBalance struct {
	ID           ObjectID   `bson:"_id,omitempty" json:"id"`
	User         ObjectID   `bson:"user" json:"user"`
	Type         string     `bson:"type" json:"type"`
	Balance      float64    `bson:"balance" json:"balance"`
	BalanceHash  string     `bson:"balance_hash,omitempty" json:"balance_hash,omitempty"`
	Card         *ObjectID  `bson:"card,omitempty" json:"card,omitempty"`
	WithdrawalAt *time.Time `bson:"withdrawalAt,omitempty" json:"withdrawalAt,omitempty"`
}

// Transaction mirrors a ledger payment transaction into the document
// store.
type Transaction struct {
	Type    string   `bson:"type" json:"type"`
	User    ObjectID `bson:"user" json:"user"`
	Product ObjectID `bson:"product" json:"product"`
	Order   ObjectID `bson:"order" json:"order"`
	Amount  float64  `bson:"amount" json:"amount"`
	Pan     string   `bson:"pan" json:"pan"`
}

// WebhookJournal is one outbound merchant-webhook attempt. Append-only;
// the newest entry per order decides retry eligibility.
type WebhookJournal struct {
	URL          string    `bson:"url" json:"url"`
	Order        ObjectID  `bson:"order" json:"order"`
	Webhook      ObjectID  `bson:"webhook" json:"webhook"`
	RequestBody  string    `bson:"requestBody" json:"requestBody"`
	ResponseBody string    `bson:"responseBody" json:"responseBody"`
	StatusCode   int       `bson:"statusCode" json:"statusCode"`
	Amount       float64   `bson:"amount" json:"amount"`
	PaidAmount   float64   `bson:"paidAmount" json:"paidAmount"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

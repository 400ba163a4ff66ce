// Package docstore wraps the operational document store holding the
// mutable business entities (orders, products, users, webhooks,
// payments, webhook_journals). Schemas are external contracts owned
// by the main application; this package only reads and mirrors them.
package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/softpaymoney/paygate/internal/pkg/env"
)

const connectTimeout = 10 * time.Second

// Store gives typed access to the document-store collections.
type Store struct {
	db *mongo.Database
}

var store *Store

// SetupDocStore connects to the document store. Called once at
// process start; the connect failure is fatal for the process.
func SetupDocStore() error {
	uri := env.GetEnv("MONGO_URI", "")
	if uri == "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%s",
			env.GetEnv("MONGO_USER", ""),
			env.GetEnv("MONGO_PASSWORD", ""),
			env.GetEnv("MONGO_HOST", "127.0.0.1"),
			env.GetEnv("MONGO_PORT", "27017"),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return err
	}
	store = &Store{db: client.Database(env.GetEnv("MONGO_DATABASE", "main"))}
	return nil
}

// GetStore returns the connected document store.
func GetStore() *Store {
	return store
}

// NewStore wraps an existing database handle; used by tests.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

// FindOrderByPaymentID resolves an order by the provider payment id.
func (s *Store) FindOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	var order Order
	err := s.db.Collection("orders").
		FindOne(ctx, bson.M{"payment.id": paymentID}).
		Decode(&order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderByID resolves an order by its document id.
func (s *Store) FindOrderByID(ctx context.Context, id ObjectID) (*Order, error) {
	var order Order
	err := s.db.Collection("orders").FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindProductByID resolves a product document.
func (s *Store) FindProductByID(ctx context.Context, id ObjectID) (*Product, error) {
	var product Product
	err := s.db.Collection("products").FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindUserByID resolves a user document.
func (s *Store) FindUserByID(ctx context.Context, id ObjectID) (*User, error) {
	var user User
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindBalance looks up the owner's balance record in the payments
// collection for the given currency tag.
func (s *Store) FindBalance(ctx context.Context, userID ObjectID, currency string) (*PaymentBalance, error) {
	var balance PaymentBalance
	err := s.db.Collection("payments").
		FindOne(ctx, bson.M{"user": userID, "type": currency}).
		Decode(&balance)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// FindWebhookByUser resolves the merchant webhook configuration of a
// product owner.
func (s *Store) FindWebhookByUser(ctx context.Context, userID ObjectID) (*Webhook, error) {
	var webhook Webhook
	err := s.db.Collection("webhooks").FindOne(ctx, bson.M{"user": userID}).Decode(&webhook)
	if err != nil {
		return nil, err
	}
	return &webhook, nil
}

// ConfirmOrder mirrors a confirmed settlement into the document store:
// normalized amount, status and paid-at timestamp.
func (s *Store) ConfirmOrder(ctx context.Context, orderID ObjectID, amount float64, paidAt time.Time) error {
	_, err := s.db.Collection("orders").UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$set": bson.M{
			"payment.amount": amount,
			"status":         "CONFIRMED",
			"paidAt":         paidAt,
		}},
	)
	return err
}

// RejectOrder marks the document-store order rejected.
func (s *Store) RejectOrder(ctx context.Context, orderID ObjectID) error {
	_, err := s.db.Collection("orders").UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$set": bson.M{"status": "REJECTED"}},
	)
	return err
}

// SetOrderReceipt stores the receipt-issuer outcome on the order.
func (s *Store) SetOrderReceipt(ctx context.Context, orderID ObjectID, uuid, status string) error {
	_, err := s.db.Collection("orders").UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$set": bson.M{
			"receipt.uuid":   uuid,
			"receipt.status": status,
		}},
	)
	return err
}

// InsertTransaction appends a payment transaction document.
func (s *Store) InsertTransaction(ctx context.Context, tx *Transaction) error {
	_, err := s.db.Collection("transactions").InsertOne(ctx, tx)
	return err
}

// InsertWebhookJournal appends a journal entry for an outbound
// merchant-webhook attempt and returns its id.
func (s *Store) InsertWebhookJournal(ctx context.Context, entry *WebhookJournal) (ObjectID, error) {
	result, err := s.db.Collection("webhook_journals").InsertOne(ctx, entry)
	if err != nil {
		return ObjectID{}, err
	}
	id, _ := result.InsertedID.(ObjectID)
	return id, nil
}

// LastWebhookJournal returns the most recent journal entry for an
// order, or nil when the order has none.
func (s *Store) LastWebhookJournal(ctx context.Context, orderID ObjectID) (*WebhookJournal, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var entry WebhookJournal
	err := s.db.Collection("webhook_journals").
		FindOne(ctx, bson.M{"order": orderID}, opts).
		Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

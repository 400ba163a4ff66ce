package processing

import (
	"database/sql"
	"errors"

	"gorm.io/gorm"

	"github.com/softpaymoney/paygate/app/models"
)

// Repository provides the ledger operations used by the processing
// role. The settlement writes run inside one serializable transaction
// so a partial failure leaves no trace.
type Repository interface {
	GetRequest(id uint) (*models.IncomingRequest, error)
	UpdateRequestStatus(id uint, status models.IncomingRequestStatus) error
	FindBalanceID(userID string, currency models.Currency) (uint, bool, error)
	CompleteRejectedOrder(order *models.Order, transaction *models.PaymentTransaction, requestID uint) error
	CompletePaidOrder(params PaidOrderParams) error
}

// PaidOrderParams carries everything the confirmed-settlement
// transaction writes. Exactly one of BalanceID / NewBalance is set:
// an existing ledger balance is referenced, a missing one is created
// inside the same transaction.
type PaidOrderParams struct {
	Order       *models.Order
	Transaction *models.PaymentTransaction
	RequestID   uint
	BalanceID   uint
	NewBalance  *models.Balance
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a processing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetRequest(id uint) (*models.IncomingRequest, error) {
	var request models.IncomingRequest
	err := r.db.Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *gormRepository) UpdateRequestStatus(id uint, status models.IncomingRequestStatus) error {
	return r.db.Model(&models.IncomingRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *gormRepository) FindBalanceID(userID string, currency models.Currency) (uint, bool, error) {
	var balance models.Balance
	err := r.db.Select("id").
		Where("user_id = ? AND currency_type = ?", userID, currency).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance.ID, true, nil
}

func (r *gormRepository) CompleteRejectedOrder(order *models.Order, transaction *models.PaymentTransaction, requestID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transaction).Error; err != nil {
			return err
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Model(&models.IncomingRequest{}).
			Where("id = ?", requestID).
			Update("status", models.RequestStatusProcessed).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func (r *gormRepository) CompletePaidOrder(params PaidOrderParams) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(params.Transaction).Error; err != nil {
			return err
		}
		if err := tx.Create(params.Order).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.IncomingRequest{}).
			Where("id = ?", params.RequestID).
			Update("status", models.RequestStatusProcessed).Error; err != nil {
			return err
		}

		balanceID := params.BalanceID
		if params.NewBalance != nil {
			if err := tx.Create(params.NewBalance).Error; err != nil {
				return err
			}
			balanceID = params.NewBalance.ID
		}

		queueEntry := models.BalanceUpdateQueue{
			BalanceID: balanceID,
			Amount:    params.Transaction.Amount,
			Operation: models.BalanceOperationIncrement,
		}
		return tx.Create(&queueEntry).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

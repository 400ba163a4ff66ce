package ingress

import (
	"gorm.io/gorm"

	"github.com/softpaymoney/paygate/app/models"
)

// Repository provides the ledger operations used by the ingress role.
type Repository interface {
	ExistsByIdempotencyKey(key string, destination models.HandlerDestination) (bool, error)
	Create(request *models.IncomingRequest) error
	GetStatus(id uint) (models.IncomingRequestStatus, error)
	UpdateStatus(id uint, status models.IncomingRequestStatus) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an ingress repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ExistsByIdempotencyKey(key string, destination models.HandlerDestination) (bool, error) {
	var count int64
	err := r.db.Model(&models.IncomingRequest{}).
		Where(`JSON_UNQUOTE(JSON_EXTRACT(payload, '$."o.CustomerKey"')) = ?`, key).
		Where("handler_destination = ?", destination).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) Create(request *models.IncomingRequest) error {
	return r.db.Create(request).Error
}

func (r *gormRepository) GetStatus(id uint) (models.IncomingRequestStatus, error) {
	var request models.IncomingRequest
	err := r.db.Select("status").Where("id = ?", id).First(&request).Error
	if err != nil {
		return "", err
	}
	return request.Status, nil
}

func (r *gormRepository) UpdateStatus(id uint, status models.IncomingRequestStatus) error {
	return r.db.Model(&models.IncomingRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}

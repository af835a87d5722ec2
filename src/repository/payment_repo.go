package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePayment inserts record and fills in its generated id and timestamps
func (r *PaymentRepository) CreatePayment(ctx context.Context, record *domain.PaymentRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// UpdatePayment applies a status transition to the payment with the given id
func (r *PaymentRepository) UpdatePayment(ctx context.Context, id uuid.UUID, update domain.PaymentUpdate) error {
	updates := map[string]interface{}{
		"status":     update.Status,
		"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
	}
	if update.UserOpHash != nil {
		updates["user_op_hash"] = update.UserOpHash.Hex()
	}
	if update.TransactionHash != nil {
		updates["transaction_hash"] = update.TransactionHash.Hex()
	}
	if update.ErrorCode != nil {
		updates["error_code"] = *update.ErrorCode
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}

	result := r.db.WithContext(ctx).Model(&domain.PaymentRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindPaymentByID retrieves a specific payment by its ID
func (r *PaymentRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return &record, nil
}

// FindPaymentsByStatus returns up to limit payments in status, oldest first
func (r *PaymentRepository) FindPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]*domain.PaymentRecord, error) {
	var records []*domain.PaymentRecord
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find payments: %w", err)
	}
	return records, nil
}

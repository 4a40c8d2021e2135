package repository

import (
	"context"
	"errors"

	"donatebot/internal/model"
	"donatebot/pkg/strutil"

	"gorm.io/gorm"
)

var ErrRefundStateInvalid = errors.New("refund state transition not allowed")

// maxFailureDetail bounds failure_detail in bytes.
const maxFailureDetail = 512

type RefundAttemptRepository struct {
	db *gorm.DB
}

func NewRefundAttemptRepository(db *gorm.DB) *RefundAttemptRepository {
	return &RefundAttemptRepository{db: db}
}

func (r *RefundAttemptRepository) Create(ctx context.Context, attempt *model.RefundAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// UpdateState moves the attempt from fromState to toState. The row must still
// be in fromState.
func (r *RefundAttemptRepository) UpdateState(ctx context.Context, refundNo, fromState, toState, failureKind, failureDetail string) error {
	if !model.CanTransitionTo(fromState, toState) {
		return ErrRefundStateInvalid
	}

	updates := map[string]interface{}{
		"state": toState,
	}
	if failureKind != "" {
		updates["failure_kind"] = failureKind
	}
	if failureDetail != "" {
		updates["failure_detail"] = strutil.Truncate(failureDetail, maxFailureDetail)
	}

	result := r.db.WithContext(ctx).
		Model(&model.RefundAttempt{}).
		Where("refund_no = ? AND state = ?", refundNo, fromState).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundStateInvalid
	}
	return nil
}

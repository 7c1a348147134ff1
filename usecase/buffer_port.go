package usecase

import (
	"context"

	"github.com/promorang/maturity/domain"
)

const OperationRecordAction = "record_action"

// OperationBuffer keeps action records that could not reach primary storage
// so they can be replayed once it is back.
type OperationBuffer interface {
	BufferAction(ctx context.Context, record *domain.ActionRecord) error
}

package services

import (
	"context"
	"encoding/json"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/internal/infrastructure/buffer"
	"github.com/promorang/maturity/usecase"
)

// actionPriority puts verified actions ahead of lower-value replays.
const actionPriority = 2

type BufferBridge struct {
	processor *BufferProcessor
}

func NewBufferBridge(processor *BufferProcessor) *BufferBridge {
	return &BufferBridge{processor: processor}
}

// BufferAction persists an action record for later replay. The record ID is
// reused as the item ID so a retried request is buffered once.
func (b *BufferBridge) BufferAction(ctx context.Context, record *domain.ActionRecord) error {
	if b.processor == nil || record == nil {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	item := buffer.Item{
		ID:        record.ID,
		UserID:    record.UserID,
		Entity:    buffer.EntityMaturityAction,
		Operation: usecase.OperationRecordAction,
		Data:      payload,
		Priority:  actionPriority,
	}
	return b.processor.BufferOperation(ctx, item)
}

var _ usecase.OperationBuffer = (*BufferBridge)(nil)

package backend

import (
	"context"
	"time"

	"github.com/voxtechnica/tuid-go"
)

// Op names a write operation.
type Op string

const (
	OpPut         Op = "put"
	OpBatchPut    Op = "batch_put"
	OpDelete      Op = "delete"
	OpBatchDelete Op = "batch_delete"
)

// WriteRequest is a write captured by a write-log scope.
type WriteRequest struct {
	// ID is a time-ordered unique identifier.
	ID        string    `json:"id" yaml:"id"`
	Op        Op        `json:"op" yaml:"op"`
	Container string    `json:"container" yaml:"container"`
	Items     []Item    `json:"items" yaml:"items"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// NewWriteRequest creates a request with a fresh ID.
func NewWriteRequest(op Op, container string, items []Item) *WriteRequest {
	id := tuid.NewID()
	at, _ := id.Time()
	return &WriteRequest{
		ID:        id.String(),
		Op:        op,
		Container: container,
		Items:     items,
		CreatedAt: at,
	}
}

// WriteLog durably records writes for later replay.
type WriteLog interface {
	Record(ctx context.Context, req *WriteRequest) error
}

// WriteLogFunc adapts a function to WriteLog.
type WriteLogFunc func(ctx context.Context, req *WriteRequest) error

// Record calls f.
func (f WriteLogFunc) Record(ctx context.Context, req *WriteRequest) error {
	return f(ctx, req)
}

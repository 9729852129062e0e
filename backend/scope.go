package backend

import "context"

type scopeKey int

const (
	consistentReadKey scopeKey = iota
	writeLogKey
)

// WithConsistentRead returns a context under which every read through an Enforce-wrapped
// client is strongly consistent.
func WithConsistentRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistentReadKey, true)
}

// ConsistentRead reports whether ctx carries a consistent-read scope.
func ConsistentRead(ctx context.Context) bool {
	v, _ := ctx.Value(consistentReadKey).(bool)
	return v
}

// WithWriteLog returns a context under which writes through an Enforce-wrapped client are
// handed to log instead of the store. A nil log ends an enclosing scope for the derived
// context.
func WithWriteLog(ctx context.Context, log WriteLog) context.Context {
	return context.WithValue(ctx, writeLogKey, log)
}

// WriteLogFrom returns the write log in scope, or nil.
func WriteLogFrom(ctx context.Context) WriteLog {
	log, _ := ctx.Value(writeLogKey).(WriteLog)
	return log
}

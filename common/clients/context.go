package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// OperatorKey is the context key for the acting operator (sent as X-Operator)
	OperatorKey contextKey = "operator"
)

// WithOperator adds the acting operator to the context
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, OperatorKey, operator)
}

// GetOperator retrieves the operator from context
func GetOperator(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorKey).(string)
	return operator, ok && operator != ""
}

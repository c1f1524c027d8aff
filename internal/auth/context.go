// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"
)

type operatorContextKey struct{}

var ctxOperatorKey operatorContextKey

// Operator identifies who triggered a maintenance action such as an erasure
// or a rebuild. Via names the surface it came through ("http", "cli").
type Operator struct {
	Name string
	Via  string
}

// WithOperator stores the acting operator on the context.
func WithOperator(ctx context.Context, op Operator) context.Context {
	op.Name = strings.TrimSpace(op.Name)
	return context.WithValue(ctx, ctxOperatorKey, op)
}

// OperatorFromContext reads the acting operator from context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(ctxOperatorKey).(Operator)
	if !ok || op.Name == "" {
		return Operator{}, false
	}
	return op, true
}

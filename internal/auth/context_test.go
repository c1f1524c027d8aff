// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
)

func TestOperatorContext(t *testing.T) {
	if _, ok := OperatorFromContext(context.Background()); ok {
		t.Fatal("expected no operator on empty context")
	}

	ctx := WithOperator(context.Background(), Operator{Name: "  alice ", Via: "cli"})
	op, ok := OperatorFromContext(ctx)
	if !ok {
		t.Fatal("expected operator on context")
	}
	if op.Name != "alice" || op.Via != "cli" {
		t.Fatalf("unexpected operator %+v", op)
	}

	blank := WithOperator(context.Background(), Operator{Name: " ", Via: "http"})
	if _, ok := OperatorFromContext(blank); ok {
		t.Fatal("expected blank operator name to be ignored")
	}
}

package botcore

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("resolve: %w", &CredentialError{PolicyID: "p1", Err: cause})

	var credErr *CredentialError
	if !errors.As(wrapped, &credErr) {
		t.Fatalf("expected CredentialError in chain")
	}
	if credErr.PolicyID != "p1" {
		t.Fatalf("unexpected policy: %s", credErr.PolicyID)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("cause lost in chain")
	}
}

func TestCredentialStringIsMasked(t *testing.T) {
	c := Credential("sk-secret")
	if got := fmt.Sprintf("%v", c); got != "***" {
		t.Fatalf("credential leaked: %s", got)
	}
	if c.Secret() != "sk-secret" {
		t.Fatalf("secret mismatch")
	}
	if Credential("").String() != "" {
		t.Fatalf("empty credential should print empty")
	}
}

func TestNilFuncAdaptersReturnTypedErrors(t *testing.T) {
	var c CompleterFunc
	_, err := c.Complete(context.Background(), nil)
	var compErr *CompletionError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}

	var m ModeratorFunc
	_, err = m.Moderate(context.Background(), "", "p", "x")
	var modErr *ModerationTransportError
	if !errors.As(err, &modErr) {
		t.Fatalf("expected ModerationTransportError, got %v", err)
	}
}

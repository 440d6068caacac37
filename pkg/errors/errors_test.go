package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor_KnownCodes(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeInsufficientStock, http.StatusConflict, false},
		{CodeConcurrentModification, http.StatusConflict, true},
		{CodeInvalidAdjustment, http.StatusUnprocessableEntity, false},
		{CodeReservationNotFound, http.StatusNotFound, false},
		{CodeReservationExpired, http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable=%v", tc.code, tc.retryable)
		}
	}
}

func TestMetadataFor_UnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("row locked")
	err := Wrap(CodeConcurrentModification, cause, "stock version conflict")

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
	typed := As(fmt.Errorf("outer: %w", err))
	if typed == nil || typed.Code() != CodeConcurrentModification {
		t.Fatalf("expected typed error through wrapping, got %v", typed)
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeInsufficientStock, "only 2 left")
	if !IsCode(err, CodeInsufficientStock) {
		t.Fatal("expected IsCode match")
	}
	if IsCode(err, CodeInvalidAdjustment) {
		t.Fatal("unexpected IsCode match")
	}
	if IsCode(nil, CodeInsufficientStock) {
		t.Fatal("nil error must not match")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeInsufficientStock, "short").WithDetails(map[string]any{
		"sku_id":    "SKU-1",
		"requested": 5,
		"available": 2,
	})
	details, ok := err.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", err.Details())
	}
	if details["available"] != 2 {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestDumpCollectsChain(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(CodeDependency, cause, "storage unavailable")

	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("unexpected code: %s", dump.Code)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("expected chain with cause, got %v", dump.Chain)
	}
}

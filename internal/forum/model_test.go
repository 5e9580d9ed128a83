package forum

import (
	"errors"
	"strings"
	"testing"
)

func TestNewAddressTrimsAndValidates(t *testing.T) {
	address, err := NewAddress("  addr-1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if address.String() != "addr-1" {
		t.Fatalf("unexpected address %q", address)
	}

	if _, err := NewAddress("   "); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address error, got %v", err)
	}
	if _, err := NewAddress(strings.Repeat("a", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address error for oversized input, got %v", err)
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := notFound("topic %s does not exist", "t-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected kind match")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatalf("kinds must not cross-match")
	}
	if err.Error() != "not_found: topic t-1 does not exist" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

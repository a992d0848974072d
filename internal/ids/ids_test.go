package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("invalid ulid %q: %v", next, err)
		}
		if next <= prev {
			t.Fatalf("ids not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestRequestIDIsUUID(t *testing.T) {
	if _, err := uuid.Parse(RequestID()); err != nil {
		t.Fatalf("request id is not a uuid: %v", err)
	}
}

package period

import (
	"errors"
	"testing"
	"time"

	"github.com/goldnet/ledger-engine/internal/model"
)

func TestParse_Monthly(t *testing.T) {
	p, err := Parse("2026-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Type != model.PeriodMonthly {
		t.Errorf("expected monthly, got %s", p.Type)
	}
	if !p.Start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %s", p.Start)
	}
	if !p.End.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end %s", p.End)
	}
}

func TestParse_Yearly(t *testing.T) {
	for _, tag := range []string{"2025", "2025-YEARLY"} {
		p, err := Parse(tag)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tag, err)
		}
		if p.Type != model.PeriodYearly {
			t.Errorf("%s: expected yearly, got %s", tag, p.Type)
		}
		if p.Tag != "2025-YEARLY" {
			t.Errorf("%s: expected canonical tag 2025-YEARLY, got %s", tag, p.Tag)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, tag := range []string{"", "2026-13", "26-01", "2026/01", "2026-00"} {
		if _, err := Parse(tag); !errors.Is(err, ErrInvalidTag) {
			t.Errorf("%q: expected ErrInvalidTag, got %v", tag, err)
		}
	}
}

func TestParseAs_TypeMismatch(t *testing.T) {
	if _, err := ParseAs("2026", model.PeriodMonthly); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestContains_HalfOpen(t *testing.T) {
	p := Monthly(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	if !p.Contains(p.Start) {
		t.Error("start should be inside the period")
	}
	if p.Contains(p.End) {
		t.Error("end should be outside the period")
	}
}

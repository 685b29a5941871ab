package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckNotional_WithinLimit(t *testing.T) {
	limiter := NewPositionLimiter(d(10000))

	// 50 shares at 100 = 5000 <= 10000.
	if _, err := limiter.CheckNotional(d(100), d(0), d(50)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckNotional_LongExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(10000))

	// Existing 80 + new 30 = 110 shares at 100 = 11000 > 10000.
	maxQty, err := limiter.CheckNotional(d(100), d(80), d(110))
	if err != ErrNotionalCapExceeded {
		t.Fatalf("expected ErrNotionalCapExceeded, got %v", err)
	}
	if !maxQty.Equal(d(20)) {
		t.Errorf("expected max trade size 20, got %s", maxQty)
	}
}

func TestCheckNotional_ShortExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(5000))

	// Short 40 → 60 at 100: 6000 > 5000.
	maxQty, err := limiter.CheckNotional(d(100), d(-40), d(-60))
	if err != ErrNotionalCapExceeded {
		t.Fatalf("expected ErrNotionalCapExceeded, got %v", err)
	}
	if !maxQty.Equal(d(10)) {
		t.Errorf("expected max trade size 10, got %s", maxQty)
	}
}

func TestCheckNotional_ReducingAlwaysAllowed(t *testing.T) {
	limiter := NewPositionLimiter(d(1000))

	// Already 5x over the cap; selling down must still pass.
	if _, err := limiter.CheckNotional(d(100), d(50), d(40)); err != nil {
		t.Errorf("reducing a long should pass, got %v", err)
	}
	if _, err := limiter.CheckNotional(d(100), d(-50), d(-10)); err != nil {
		t.Errorf("covering a short should pass, got %v", err)
	}
}

func TestCheckNotional_AlreadyOverCap(t *testing.T) {
	limiter := NewPositionLimiter(d(1000))

	maxQty, err := limiter.CheckNotional(d(100), d(15), d(16))
	if err != ErrNotionalCapExceeded {
		t.Fatalf("expected ErrNotionalCapExceeded, got %v", err)
	}
	if !maxQty.IsZero() {
		t.Errorf("expected zero headroom, got %s", maxQty)
	}
}

func TestCheckNotional_Disabled(t *testing.T) {
	for _, limit := range []float64{0, -1} {
		limiter := NewPositionLimiter(d(limit))
		if limiter.Enabled() {
			t.Errorf("cap=%v should be disabled", limit)
		}
		if _, err := limiter.CheckNotional(d(100), d(0), d(1e6)); err != nil {
			t.Errorf("disabled cap should never reject, got %v", err)
		}
	}
}

func TestCheckNotional_ExactlyAtCap(t *testing.T) {
	limiter := NewPositionLimiter(d(10000))

	if _, err := limiter.CheckNotional(d(100), d(0), d(100)); err != nil {
		t.Errorf("position exactly at cap should pass, got %v", err)
	}
}

func TestMaxShares(t *testing.T) {
	limiter := NewPositionLimiter(d(1000))

	limit, ok := limiter.MaxShares(d(3))
	if !ok {
		t.Fatal("expected cap to apply")
	}
	if !limit.Equal(decimal.RequireFromString("333.33333333")) {
		t.Errorf("expected 333.33333333, got %s", limit)
	}
	if _, ok := limiter.MaxShares(d(0)); ok {
		t.Error("zero spot should not bound the position")
	}
}

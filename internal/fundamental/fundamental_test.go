package fundamental

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNew_InvalidWeeks(t *testing.T) {
	for _, w := range []int{0, -3} {
		if _, err := New(w, d("1")); err != ErrInvalidSeasonWeeks {
			t.Errorf("weeks=%d: expected ErrInvalidSeasonWeeks, got %v", w, err)
		}
	}
}

func TestFairValue_Preseason(t *testing.T) {
	m, _ := New(18, d("1"))
	if got := m.FairValue(d("290"), decimal.Zero, 0); !got.Equal(d("290")) {
		t.Errorf("preseason fair value should equal projection, got %s", got)
	}
}

func TestFairValue_OnPace(t *testing.T) {
	m, _ := New(18, d("1"))
	// Half the season, half the projection scored.
	if got := m.FairValue(d("180"), d("90"), 9); !got.Equal(d("180")) {
		t.Errorf("on-pace player should hold projection, got %s", got)
	}
}

func TestFairValue_AheadAndBehind(t *testing.T) {
	m, _ := New(18, d("0.5"))
	tests := []struct {
		name   string
		points string
		want   string
	}{
		{"ahead", "110", "190"}, // 180 + 0.5·(110 − 90)
		{"behind", "70", "170"}, // 180 + 0.5·(70 − 90)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.FairValue(d("180"), d(tt.points), 9)
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFairValue_FlooredAtOne(t *testing.T) {
	m, _ := New(18, d("1"))
	if got := m.FairValue(d("50"), decimal.Zero, 18); !got.Equal(d("1")) {
		t.Errorf("expected floor of 1, got %s", got)
	}
}

func TestExpected_ClampsWeek(t *testing.T) {
	m, _ := New(18, d("1"))
	if got := m.Expected(d("180"), 40); !got.Equal(d("180")) {
		t.Errorf("weeks past the season should clamp, got %s", got)
	}
	if got := m.Expected(d("180"), -2); !got.IsZero() {
		t.Errorf("negative week should clamp to 0, got %s", got)
	}
}

func TestFairValue_ConvergesToFinal(t *testing.T) {
	m, _ := New(18, d("1"))
	// At season end with weight 1, fair value equals realized points.
	if got := m.FairValue(d("200"), d("245.5"), 18); !got.Equal(d("245.5")) {
		t.Errorf("expected 245.5, got %s", got)
	}
}

package textsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/timesync/internal/textsim"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"both empty", "", "", 1},
		{"left empty", "", "abc", 0},
		{"right empty", "abc", "", 0},
		{"identical", "Fix bug", "Fix bug", 1},
		{"case insensitive", "FIX BUG", "fix bug", 1},
		{"one substitution", "kitten", "sitten", 5.0 / 6.0},
		{"kitten sitting", "kitten", "sitting", 4.0 / 7.0},
		{"disjoint", "abc", "xyz", 0},
		{"multibyte", "Überprüfung", "uberprüfung", 10.0 / 11.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, textsim.Ratio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRatioBounds(t *testing.T) {
	pairs := [][2]string{
		{"a", "abcdefghij"},
		{"review PR 42", "Review pull request"},
		{"standup", "stand-up meeting"},
	}
	for _, p := range pairs {
		r := textsim.Ratio(p[0], p[1])
		assert.GreaterOrEqual(t, r, 0.0, "%q vs %q", p[0], p[1])
		assert.LessOrEqual(t, r, 1.0, "%q vs %q", p[0], p[1])
		assert.Equal(t, r, textsim.Ratio(p[1], p[0]), "ratio must be symmetric")
	}
}

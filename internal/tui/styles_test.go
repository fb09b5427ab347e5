package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thruflo/clave/internal/cycle"
)

func TestSparkline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float64
		width  int
		want   string
	}{
		{name: "empty", values: nil, width: 10, want: ""},
		{name: "zero width", values: []float64{1, 2}, width: 0, want: ""},
		{name: "flat", values: []float64{5, 5, 5}, width: 10, want: "▁▁▁"},
		{name: "ramp", values: []float64{0, 7}, width: 10, want: "▁█"},
		{name: "scaled", values: []float64{0, 1, 2, 3, 4, 5, 6, 7}, width: 8, want: "▁▂▃▄▅▆▇█"},
		{name: "keeps newest", values: []float64{100, 0, 7}, width: 2, want: "▁█"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sparkline(tt.values, tt.width))
		})
	}
}

func TestFormatMinutes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0s", FormatMinutes(0))
	assert.Equal(t, "0s", FormatMinutes(-3))
	assert.Equal(t, "45s", FormatMinutes(0.75))
	assert.Equal(t, "12m30s", FormatMinutes(12.5))
	assert.Equal(t, "1h02m03s", FormatMinutes(62.05))
}

func TestStatusColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ColorRunning, StatusColor(cycle.StatusRunning))
	assert.Equal(t, ColorPaused, StatusColor(cycle.StatusPaused))
	assert.Equal(t, ColorCompleted, StatusColor(cycle.StatusCompleted))
	assert.Equal(t, ColorStopped, StatusColor(cycle.StatusStopped))
	assert.Equal(t, ColorIdle, StatusColor(cycle.StatusUnknown))

	assert.Contains(t, FormatStatus(cycle.StatusPaused), "PAUSED")
}

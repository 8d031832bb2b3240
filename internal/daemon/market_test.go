package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"factorscan/internal/bartest"
)

func TestMarketSchedule_Status(t *testing.T) {
	s := DefaultMarketSchedule()

	tests := []struct {
		name   string
		now    time.Time
		reason string
		open   bool
		last   time.Time
	}{
		{"settled friday", time.Date(2025, 9, 12, 21, 0, 0, 0, time.UTC), "after-hours", false, bartest.Date(2025, 9, 12)},
		{"just after the bell", time.Date(2025, 9, 12, 20, 15, 0, 0, time.UTC), "after-hours", false, bartest.Date(2025, 9, 11)},
		{"mid session", time.Date(2025, 9, 12, 14, 0, 0, 0, time.UTC), "open", true, bartest.Date(2025, 9, 11)},
		{"saturday", time.Date(2025, 9, 13, 15, 0, 0, 0, time.UTC), "weekend", false, bartest.Date(2025, 9, 12)},
		{"labor day", time.Date(2025, 9, 1, 22, 0, 0, 0, time.UTC), "holiday", false, bartest.Date(2025, 8, 29)},
		{"monday pre-market", time.Date(2025, 9, 8, 12, 0, 0, 0, time.UTC), "pre-market", false, bartest.Date(2025, 9, 5)},
		{"winter close", time.Date(2025, 12, 1, 21, 45, 0, 0, time.UTC), "after-hours", false, bartest.Date(2025, 12, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := s.Status(tt.now)
			assert.Equal(t, tt.reason, st.Reason)
			assert.Equal(t, tt.open, st.IsOpen)
			assert.True(t, st.LastSession.Equal(tt.last), "got %s", st.LastSession)
			assert.True(t, s.EvaluationDate(tt.now).Equal(tt.last))
		})
	}

	assert.NotEmpty(t, s.Status(time.Date(2025, 9, 1, 22, 0, 0, 0, time.UTC)).Holiday)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(-time.Second))
	assert.Equal(t, "4.2s", FormatDuration(4200*time.Millisecond))
	assert.Equal(t, "12m", FormatDuration(12*time.Minute))
	assert.Equal(t, "1h 5m", FormatDuration(65*time.Minute))
}

package daemon

import (
	"fmt"
	"time"

	"factorscan/internal/calendar"
	"factorscan/pkg/model"
)

// MarketSchedule is the regular NYSE/NASDAQ session in Eastern Time
type MarketSchedule struct {
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int

	// SettleDelay is how long after the close daily bars are considered final
	SettleDelay time.Duration
}

// DefaultMarketSchedule is 09:30-16:00 ET with providers settled 30 minutes
// after the bell
func DefaultMarketSchedule() MarketSchedule {
	return MarketSchedule{
		OpenHour:    9,
		OpenMin:     30,
		CloseHour:   16,
		CloseMin:    0,
		SettleDelay: 30 * time.Minute,
	}
}

// MarketStatus describes the session at a point in time
type MarketStatus struct {
	IsOpen        bool
	CurrentTimeET time.Time
	Reason        string // open, pre-market, after-hours, weekend, holiday
	Holiday       string
	LastSession   time.Time // most recent session whose bars are final
}

// ETLocation returns US Eastern Time
func ETLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return loc
}

func (s MarketSchedule) at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// Status reports the session state at now
func (s MarketSchedule) Status(now time.Time) MarketStatus {
	et := now.In(ETLocation())
	today := model.DateOf(et)
	status := MarketStatus{CurrentTimeET: et}

	openAt := s.at(et, s.OpenHour, s.OpenMin)
	closeAt := s.at(et, s.CloseHour, s.CloseMin)

	switch {
	case calendar.IsWeekend(today):
		status.Reason = "weekend"
	case calendar.IsHoliday(today):
		status.Reason = "holiday"
		status.Holiday = calendar.HolidayName(today)
	case et.Before(openAt):
		status.Reason = "pre-market"
	case et.Before(closeAt):
		status.Reason = "open"
		status.IsOpen = true
	default:
		status.Reason = "after-hours"
	}

	if calendar.IsTradingDay(today) && !et.Before(closeAt.Add(s.SettleDelay)) {
		status.LastSession = today
	} else {
		status.LastSession = calendar.PreviousTradingDay(today)
	}
	return status
}

// EvaluationDate is the latest trading day with final daily bars at now
func (s MarketSchedule) EvaluationDate(now time.Time) time.Time {
	return s.Status(now).LastSession
}

// FormatDuration renders a duration as "1h 5m", "12m" or "4.2s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

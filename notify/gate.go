// Package notify decides whether a regular cycle may post right now.
package notify

import (
	"log/slog"
	"time"
)

// Gate allows notifications on weekdays (and weekends when NotifyWeekend)
// during the hours [StartHour, EndHour) of Location.
type Gate struct {
	NotifyWeekend bool
	StartHour     int
	EndHour       int
	// Location defaults to time.Local
	Location *time.Location
}

func (g Gate) Allows(now time.Time) bool {
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	dayAllowed := g.NotifyWeekend || !IsWeekend(local)
	hour := local.Hour()
	hourAllowed := hour >= g.StartHour && hour < g.EndHour

	slog.Debug("notification window",
		"zone", loc.String(),
		"local_time", local.Format(time.DateTime),
		"day_allowed", dayAllowed,
		"hour_allowed", hourAllowed,
	)
	return dayAllowed && hourAllowed
}

func IsWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}

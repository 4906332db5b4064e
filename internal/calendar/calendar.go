// Package calendar answers trading-day questions for the Shanghai and
// Shenzhen exchanges.
package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

type Calendar struct {
	loc      *time.Location
	cutoff   time.Duration
	holidays map[time.Time]bool
}

// New builds a calendar from the configured timezone, close cutoff (HH:MM)
// and holiday list.
func New(cfg appconfig.CalendarConfig) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}

	cutoff := 15*time.Hour + 30*time.Minute
	if cfg.CloseCutoff != "" {
		t, err := time.Parse("15:04", cfg.CloseCutoff)
		if err != nil {
			return nil, fmt.Errorf("calendar close_cutoff: %w", err)
		}
		cutoff = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}

	holidays := make(map[time.Time]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := model.ParseDate(h)
		if err != nil {
			return nil, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		holidays[d] = true
	}

	return &Calendar{loc: loc, cutoff: cutoff, holidays: holidays}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the calendar date d is neither a weekend nor
// a configured holiday.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = model.Day(d)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[d]
}

// localDay converts an instant to its exchange-local calendar date.
func (c *Calendar) localDay(now time.Time) time.Time {
	return model.Day(now.In(c.loc))
}

// LatestTradingDay is the most recent trading day whose session has closed
// as of now. Before the cutoff on a trading day the previous one is returned.
func (c *Calendar) LatestTradingDay(now time.Time) time.Time {
	local := now.In(c.loc)
	day := model.Day(local)
	sinceMidnight := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute

	if c.IsTradingDay(day) && sinceMidnight >= c.cutoff {
		return day
	}
	return c.AddTradingDays(day, -1)
}

// AddTradingDays moves n trading days from d. For n == 0 the result is d
// itself when it is a trading day, else the next trading day.
func (c *Calendar) AddTradingDays(d time.Time, n int) time.Time {
	d = model.Day(d)
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	if n == 0 {
		for !c.IsTradingDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		return d
	}
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if c.IsTradingDay(d) {
			n--
		}
	}
	return d
}

// IsSessionOpen reports whether now falls inside the continuous trading
// sessions (09:30-11:30, 13:00-15:00 local) of a trading day.
func (c *Calendar) IsSessionOpen(now time.Time) bool {
	if !c.IsTradingDay(c.localDay(now)) {
		return false
	}
	local := now.In(c.loc)
	hm := local.Hour()*100 + local.Minute()
	return (hm >= 930 && hm < 1130) || (hm >= 1300 && hm < 1500)
}

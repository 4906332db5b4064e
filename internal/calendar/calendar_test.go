package calendar

import (
	"testing"
	"time"

	appconfig "marketflow/config"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New(appconfig.CalendarConfig{
		Timezone:    "Asia/Shanghai",
		CloseCutoff: "15:30",
		Holidays:    []string{"2024-10-01", "2024-10-02"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cal
}

func shanghai(t *testing.T, layout string) time.Time {
	t.Helper()
	loc, _ := time.LoadLocation("Asia/Shanghai")
	ts, err := time.ParseInLocation("2006-01-02 15:04", layout, loc)
	if err != nil {
		t.Fatalf("parse %q: %v", layout, err)
	}
	return ts
}

func date(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestLatestTradingDay(t *testing.T) {
	cal := newTestCalendar(t)

	cases := []struct {
		now  string
		want string
	}{
		{"2024-01-03 16:00", "2024-01-03"}, // Wednesday after close
		{"2024-01-03 10:00", "2024-01-02"}, // before cutoff
		{"2024-01-06 12:00", "2024-01-05"}, // Saturday
		{"2024-01-08 09:00", "2024-01-05"}, // Monday morning
		{"2024-10-03 18:00", "2024-10-03"},
		{"2024-10-02 18:00", "2024-09-30"}, // holiday run
	}
	for _, tc := range cases {
		got := cal.LatestTradingDay(shanghai(t, tc.now))
		if !got.Equal(date(tc.want)) {
			t.Errorf("LatestTradingDay(%s) = %s, want %s", tc.now, got.Format("2006-01-02"), tc.want)
		}
	}
}

func TestLatestTradingDayUsesShanghaiTime(t *testing.T) {
	cal := newTestCalendar(t)
	// 08:00 UTC is 16:00 in Shanghai.
	now := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	if got := cal.LatestTradingDay(now); !got.Equal(date("2024-01-03")) {
		t.Fatalf("got %s", got)
	}
}

func TestAddTradingDays(t *testing.T) {
	cal := newTestCalendar(t)

	if got := cal.AddTradingDays(date("2024-01-05"), 1); !got.Equal(date("2024-01-08")) {
		t.Errorf("forward over weekend: got %s", got)
	}
	if got := cal.AddTradingDays(date("2024-10-03"), -1); !got.Equal(date("2024-09-30")) {
		t.Errorf("backward over holidays: got %s", got)
	}
	if got := cal.AddTradingDays(date("2024-01-06"), 0); !got.Equal(date("2024-01-08")) {
		t.Errorf("zero on weekend: got %s", got)
	}
}

func TestIsSessionOpen(t *testing.T) {
	cal := newTestCalendar(t)
	if !cal.IsSessionOpen(shanghai(t, "2024-01-03 10:00")) {
		t.Error("expected open at 10:00")
	}
	if cal.IsSessionOpen(shanghai(t, "2024-01-03 12:00")) {
		t.Error("expected closed at lunch")
	}
	if cal.IsSessionOpen(shanghai(t, "2024-01-06 10:00")) {
		t.Error("expected closed on Saturday")
	}
}

func TestNewRejectsBadHoliday(t *testing.T) {
	if _, err := New(appconfig.CalendarConfig{Holidays: []string{"10/01/2024"}}); err == nil {
		t.Fatal("expected error")
	}
}

// Package timefmt renders event timestamps for display.
package timefmt

import (
	"time"
)

// Translator supplies the localized phrases used by Relative.
type Translator interface {
	T(key string, args ...any) string
}

// Relative renders ms (epoch milliseconds) relative to now, e.g. "5 minutes ago".
func Relative(ms int64, now time.Time, tr Translator) string {
	d := now.Sub(time.UnixMilli(ms))
	switch {
	case d < time.Minute:
		return tr.T("time.just_now")
	case d < 2*time.Minute:
		return tr.T("time.minute_ago")
	case d < time.Hour:
		return tr.T("time.minutes_ago", int(d/time.Minute))
	case d < 2*time.Hour:
		return tr.T("time.hour_ago")
	case d < 24*time.Hour:
		return tr.T("time.hours_ago", int(d/time.Hour))
	case d < 48*time.Hour:
		return tr.T("time.day_ago")
	}
	return tr.T("time.days_ago", int(d/(24*time.Hour)))
}

// Absolute renders ms in loc using the date layout customary for lang.
func Absolute(ms int64, lang string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t := time.UnixMilli(ms).In(loc)
	if lang == "de" {
		return t.Format("02.01.2006 15:04")
	}
	return t.Format("Jan 2, 15:04")
}

// Package reminder pulls `Date: YYYY-MM-DD` / `Time: HH:MM` reminders out of
// message bodies and turns them into countdowns.
package reminder

import (
	"regexp"
	"time"

	"tutorme/tutorchat/internal/model"
)

var (
	datePattern = regexp.MustCompile(`Date: (\d{4}-\d{2}-\d{2})`)
	timePattern = regexp.MustCompile(`Time: (\d{2}:\d{2})`)
)

const (
	msPerMinute = int64(60 * 1000)
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// Extract returns the reminder instant embedded in body, interpreted in loc.
// Both markers must be present and well formed.
func Extract(body string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	dateMatch := datePattern.FindStringSubmatch(body)
	timeMatch := timePattern.FindStringSubmatch(body)
	if dateMatch == nil || timeMatch == nil {
		return time.Time{}, false
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", dateMatch[1]+" "+timeMatch[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// Decompose splits a millisecond duration into whole days, then hours of the
// remainder, then minutes of the remainder. Divisions floor; remainders keep
// the sign of ms.
func Decompose(ms int64) model.Countdown {
	return model.Countdown{
		Days:    floorDiv(ms, msPerDay),
		Hours:   floorDiv(ms%msPerDay, msPerHour),
		Minutes: floorDiv(ms%msPerHour, msPerMinute),
	}
}

// CountdownAt is the time left until at. Past reminders are reported as
// overdue with every unit zeroed.
func CountdownAt(at, now time.Time) model.Countdown {
	ms := at.Sub(now).Milliseconds()
	if ms < 0 {
		return model.Countdown{Overdue: true}
	}
	return Decompose(ms)
}

// Latest picks the newest reminder-bearing message. Equal timestamps resolve
// to the lexicographically last body, then the last id.
func Latest(msgs []model.Message) (model.Message, bool) {
	var best model.Message
	found := false
	for _, m := range msgs {
		if !IsReminder(m) {
			continue
		}
		if !found || newer(m, best) {
			best = m
			found = true
		}
	}
	return best, found
}

// IsReminder uses the stored kind when present and falls back to sniffing the
// body for rows written before kinds existed.
func IsReminder(m model.Message) bool {
	if m.Kind != "" {
		return m.Kind == model.KindReminder
	}
	return model.ClassifyBody(m.Body) == model.KindReminder
}

func newer(a, b model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.Body != b.Body {
		return a.Body > b.Body
	}
	return a.ID > b.ID
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

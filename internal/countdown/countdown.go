// Package countdown stores dated events and works out how far away they are.
package countdown

import (
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/daily-brief/internal/models"
)

// DateLayout is the on-the-wire date format.
const DateLayout = "2006-01-02"

// civil truncates t to midnight UTC of its calendar day in t's own location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// anniversary returns the event's date in year. Feb 29 falls on Feb 28 in
// non-leap years.
func anniversary(date time.Time, year int) time.Time {
	m, d := date.Month(), date.Day()
	if m == time.February && d == 29 && !isLeap(year) {
		d = 28
	}
	return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
}

// Evaluate fills the derived fields of c as seen on now's calendar day.
// A date that does not parse is left as is with an empty message.
func Evaluate(c models.Countdown, now time.Time) models.Countdown {
	date, err := time.Parse(DateLayout, c.Date)
	if err != nil {
		c.Message = ""
		return c
	}
	today := civil(now)

	next := date
	if c.Yearly {
		next = anniversary(date, today.Year())
		if next.Before(today) {
			next = anniversary(date, today.Year()+1)
		}
	}

	days := daysBetween(today, next)
	c.DaysLeft = days
	c.NextOccurrence = next.Format(DateLayout)
	c.IsPast = days < 0
	c.Message = message(c.Name, days)
	return c
}

// daysBetween counts whole days between two UTC midnights. Unix seconds are
// used because time.Duration overflows past about 292 years.
func daysBetween(from, to time.Time) int {
	return int((to.Unix() - from.Unix()) / 86400)
}

func message(name string, days int) string {
	switch {
	case days == 0:
		return fmt.Sprintf("%s is today!", name)
	case days == 1:
		return fmt.Sprintf("%s is tomorrow", name)
	case days > 1:
		return fmt.Sprintf("%d days until %s", days, name)
	case days == -1:
		return fmt.Sprintf("%s was yesterday", name)
	default:
		return fmt.Sprintf("%s was %d days ago", name, -days)
	}
}

// Sort orders upcoming events soonest first, then past events most recent first.
func Sort(list []models.Countdown) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPast != b.IsPast {
			return !a.IsPast
		}
		if a.DaysLeft != b.DaysLeft {
			if a.IsPast {
				return a.DaysLeft > b.DaysLeft
			}
			return a.DaysLeft < b.DaysLeft
		}
		return a.Name < b.Name
	})
}

package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// If given `value` is not empty, returns it. Else `defaultValue` will be returned.
func GetStrOr(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	} else {
		return value
	}
}

// GetDurationOr returns `value` if it is greater than zero, else
// `defaultValue`.
func GetDurationOr(value, defaultValue time.Duration) time.Duration {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// GetIntOr returns `value` if it is greater than zero, else `defaultValue`.
func GetIntOr(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// MkDate parses a date string in YYYY-MM-DD format into a UTC timestamp at
// midnight.
func MkDate(value string) (time.Time, error) {
	date, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expecting YYYY-MM-DD: %s", value, err)
	}
	return date, nil
}

// DaysIn returns the number of days in the month containing `date`.
func DaysIn(date time.Time) int {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

// MonthEnd returns the last day of the month containing `date`, at midnight.
func MonthEnd(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), DaysIn(date), 0, 0, 0, 0, time.UTC)
}

// logBannerMsg prints a block of message to log.
func LogBannerMsg(msgs []string, paddingLen int) {
	maxLen := 0
	for i := range msgs {
		l := len(msgs[i])
		if l > maxLen {
			maxLen = l
		}
	}

	padding := strings.Repeat(" ", paddingLen)
	stem := strings.Repeat("─", maxLen+paddingLen*2)

	log.Info("╭" + stem + "╮")
	for _, line := range msgs {
		log.Info("│" + padding + line + strings.Repeat(" ", maxLen-len(line)) + padding + " ")
	}
	log.Info("╰" + stem + "╯")
}

package scoring

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/checkin/internal/core"
)

const (
	// excelUnixEpoch is the spreadsheet serial of 1970-01-01.
	excelUnixEpoch = 25569
	// excelMaxSerial is the serial of 9999-12-31.
	excelMaxSerial = 2958465
)

// ParseDate parses a spreadsheet serial date or a YYYY/MM/DD[ HH:MM] string.
func ParseDate(raw string) (core.DateValue, bool) {
	raw = strings.TrimSpace(raw)
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		return fromSerial(serial)
	}
	return fromString(raw)
}

// fromSerial converts days since 1899-12-30; the fraction is the time of day.
func fromSerial(serial float64) (core.DateValue, bool) {
	if math.IsNaN(serial) || serial <= 0 || serial >= excelMaxSerial+1 {
		return core.DateValue{}, false
	}

	days := math.Floor(serial)
	// nudge so that 0.5 days does not come out as 11:59:59
	seconds := int64(math.Floor(86400 * (serial - days + 0.0000001)))
	if seconds >= 86400 {
		seconds = 86399
	}

	date := time.Unix(int64(days-excelUnixEpoch)*86400+seconds, 0).UTC()
	return core.DateValue{Date: date, HasTime: seconds > 0}, true
}

func fromString(raw string) (core.DateValue, bool) {
	// anything after the time part is ignored
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return core.DateValue{}, false
	}

	ymd := strings.Split(parts[0], "/")
	if len(ymd) != 3 {
		return core.DateValue{}, false
	}
	year, err1 := strconv.Atoi(ymd[0])
	month, err2 := strconv.Atoi(ymd[1])
	day, err3 := strconv.Atoi(ymd[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return core.DateValue{}, false
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so 2024/02/30 comes back as March
	if date.Year() != year || int(date.Month()) != month || date.Day() != day {
		return core.DateValue{}, false
	}

	v := core.DateValue{Date: date}
	if len(parts) >= 2 {
		if h, m, ok := clock(parts[1]); ok {
			v.Date = date.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
			v.HasTime = true
		}
	}
	return v, true
}

// clock parses HH:MM.
func clock(s string) (int, int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h > 23 || m > 59 || h < 0 || m < 0 {
		return 0, 0, false
	}
	return h, m, true
}

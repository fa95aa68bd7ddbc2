package markethours

import "time"

// NSE trading holidays for calendar year 2026, as "MM-DD" in IST, from the
// exchange's published list. Dates for lunar-calendar festivals are the
// exchange's tentative announcements and may shift.
var nseHolidays2026 = map[string]string{
	"01-26": "Republic Day",
	"02-17": "Mahashivratri",
	"03-14": "Holi",
	"03-31": "Id-ul-Fitr",
	"04-02": "Ram Navami",
	"04-06": "Mahavir Jayanti",
	"04-10": "Good Friday",
	"04-14": "Dr. Ambedkar Jayanti",
	"05-01": "Maharashtra Day",
	"06-07": "Bakrid",
	"07-06": "Muharram",
	"08-15": "Independence Day",
	"08-16": "Janmashtami",
	"09-05": "Milad-un-Nabi",
	"10-02": "Mahatma Gandhi Jayanti",
	"10-20": "Dussehra",
	"10-21": "Dussehra",
	"11-05": "Diwali Lakshmi Puja",
	"11-06": "Diwali Balipratipada",
	"11-07": "Bhai Dooj",
	"11-19": "Guru Nanak Jayanti",
	"12-25": "Christmas",
}

// IsHoliday reports whether the date (in IST) is an NSE trading holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	if ist.Year() != 2026 {
		return false
	}
	_, ok := nseHolidays2026[ist.Format("01-02")]
	return ok
}

// HolidayName returns the holiday observed on the date, or "" when the
// exchange is open.
func HolidayName(t time.Time) string {
	ist := t.In(IST)
	if ist.Year() != 2026 {
		return ""
	}
	return nseHolidays2026[ist.Format("01-02")]
}

// Package datekey derives the effective date key (YYYY-MM-DD) that orders
// journal entries and buckets external activity.
package datekey

import (
	"regexp"
	"time"
)

// Layout is the wire format of a date key.
const Layout = "2006-01-02"

var filenameRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\.md$`)

// FromFilename returns the date key encoded in a strictly date-named file
// (YYYY-MM-DD.md). The second return is false when the name does not match
// the pattern or encodes an impossible calendar date.
func FromFilename(name string) (string, bool) {
	m := filenameRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	key := m[1] + "-" + m[2] + "-" + m[3]
	if _, err := time.Parse(Layout, key); err != nil {
		return "", false
	}
	return key, true
}

// Effective returns the date key for an entry: the filename-encoded date when
// present, otherwise the day of the creation timestamp. It is a pure function
// of its inputs; two entries may share a key.
func Effective(name string, created time.Time) string {
	if key, ok := FromFilename(name); ok {
		return key
	}
	return created.Format(Layout)
}

// FromTime returns the date key for an arbitrary timestamp.
func FromTime(t time.Time) string {
	return t.Format(Layout)
}

// DayBounds returns the inclusive start and exclusive end of the calendar day
// named by key, in local time. ok is false for a malformed key.
func DayBounds(key string) (start, end time.Time, ok bool) {
	t, err := time.ParseInLocation(Layout, key, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return t, t.AddDate(0, 0, 1), true
}

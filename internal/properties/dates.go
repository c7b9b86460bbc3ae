package properties

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativeDatePattern matches expressions like "-7d", "-2h", "-30m".
var relativeDatePattern = regexp.MustCompile(`^-?(\d+)([smhdwy])$`)

var tolerantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTolerant parses a date string per the spec's tolerant grammar:
// RFC 3339, ISO 8601 with or without milliseconds/zone, YYYY-MM-DD, and
// relative expressions like "-7d"/"-2h". Unparsable input reports ok=false;
// the matcher treats that as a non-match rather than an error. Values with
// no explicit zone are interpreted as UTC.
func parseTolerant(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := relativeDatePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		var d time.Duration
		switch m[2] {
		case "s":
			d = time.Duration(n) * time.Second
		case "m":
			d = time.Duration(n) * time.Minute
		case "h":
			d = time.Duration(n) * time.Hour
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		case "w":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "y":
			d = time.Duration(n) * 365 * 24 * time.Hour
		}
		return now.Add(-d), true
	}

	for _, layout := range tolerantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

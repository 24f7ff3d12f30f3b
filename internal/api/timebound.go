package api

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	dayExpr    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	monthExpr  = regexp.MustCompile(`^\d{4}-\d{2}`)
	numberExpr = regexp.MustCompile(`^\d+$`)
)

// dayCountLimit separates "days ago" counts from unix timestamps.
const dayCountLimit = 100_000_000

// parseTimeBound reads a listing bound: YYYY-MM-DD, YYYY-MM, a number of
// days before now, or a unix timestamp. Empty input yields def.
func parseTimeBound(raw string, now, def time.Time) (time.Time, error) {
	switch {
	case raw == "":
		return def, nil
	case dayExpr.MatchString(raw):
		return time.Parse("2006-01-02", raw[:10])
	case monthExpr.MatchString(raw):
		return time.Parse("2006-01", raw[:7])
	case numberExpr.MatchString(raw):
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		if n < dayCountLimit {
			return now.AddDate(0, 0, -int(n)), nil
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
	}
}

// Package iso8601 parses the loosely-typed date/time strings that arrive
// from code-table and dataset columns. It never errors — a non-matching
// input simply reports ok=false, per the contract the dataset solver
// relies on for best-effort coercion.
package iso8601

import "regexp"

// dateTimeRe mirrors ecommerce.db.dataset.iso8601._iso8601Date_re: every
// field below the year is optional and nests inside the one before it, so a
// partial prefix like "2011-12" still matches with the trailing fields left
// unset.
var dateTimeRe = regexp.MustCompile(
	`^(?P<year>[0-9]{4})` +
		`(-?(?P<month>[0-9]{1,2})` +
		`(-?(?P<day>[0-9]{1,2})` +
		`((?P<separator>T| )?` +
		`(?P<hour>[0-9]{2})` +
		`(:?(?P<minute>[0-9]{2})` +
		`(:?(?P<second>[0-9]{2})` +
		`(\.(?P<fraction>[0-9]+))?` +
		`)?` +
		`)?` +
		`(?P<timezone>Z|(([-+])([0-9]{2})(:?[0-9]{2})?))?` +
		`)?` +
		`)?` +
		`)?$`)

// timeRe mirrors _iso8601Time_re, the time-only form.
var timeRe = regexp.MustCompile(
	`^(?P<hour>[0-9]{2})` +
		`(:?(?P<minute>[0-9]{2})` +
		`(:?(?P<second>[0-9]{2})` +
		`(\.(?P<fraction>[0-9]+))?` +
		`)?` +
		`)?` +
		`(?P<timezone>Z|(([-+])([0-9]{2})(:?[0-9]{2})?))?$`)

// Parts holds the structured components of a parsed ISO-8601 value. Any
// field absent from the input is left nil. Timezone is captured as the
// literal matched text but is never applied to the other fields — an open
// question the spec leaves unresolved; callers must treat the other fields
// as naive local time.
type Parts struct {
	Year      *int
	Month     *int
	Day       *int
	Separator *string
	Hour      *int
	Minute    *int
	Second    *int
	// Fraction is the sub-second component right-padded with zeros to 6
	// digits (microseconds) and truncated if longer.
	Fraction  *int
	Timezone  *string
}

// ParseDatetime attempts to parse value as an ISO-8601 date or datetime. It
// reports ok=false, with a zero Parts, when value does not match.
func ParseDatetime(value string) (Parts, bool) {
	m := dateTimeRe.FindStringSubmatch(value)
	if m == nil {
		return Parts{}, false
	}
	names := dateTimeRe.SubexpNames()
	groups := groupMap(m, names)

	p := Parts{}
	p.Year = intField(groups, "year")
	p.Month = intField(groups, "month")
	p.Day = intField(groups, "day")
	p.Separator = stringField(groups, "separator")
	p.Hour = intField(groups, "hour")
	p.Minute = intField(groups, "minute")
	p.Second = intField(groups, "second")
	p.Fraction = fractionField(groups, "fraction")
	p.Timezone = stringField(groups, "timezone")
	return p, true
}

// ParseTime attempts to parse value as an ISO-8601 time-only string.
func ParseTime(value string) (Parts, bool) {
	m := timeRe.FindStringSubmatch(value)
	if m == nil {
		return Parts{}, false
	}
	names := timeRe.SubexpNames()
	groups := groupMap(m, names)

	p := Parts{}
	p.Hour = intField(groups, "hour")
	p.Minute = intField(groups, "minute")
	p.Second = intField(groups, "second")
	p.Fraction = fractionField(groups, "fraction")
	p.Timezone = stringField(groups, "timezone")
	return p, true
}

func groupMap(m, names []string) map[string]string {
	groups := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" || i >= len(m) {
			continue
		}
		if m[i] != "" {
			groups[name] = m[i]
		}
	}
	return groups
}

func intField(groups map[string]string, name string) *int {
	raw, ok := groups[name]
	if !ok {
		return nil
	}
	n := 0
	for _, c := range raw {
		n = n*10 + int(c-'0')
	}
	return &n
}

func stringField(groups map[string]string, name string) *string {
	raw, ok := groups[name]
	if !ok {
		return nil
	}
	return &raw
}

// fractionField right-pads the matched fractional digits with zeros to 6
// places and truncates any surplus, matching
// int((attrs["fraction"] + "000000")[:6]) in the original source.
func fractionField(groups map[string]string, name string) *int {
	raw, ok := groups[name]
	if !ok {
		return nil
	}
	padded := raw + "000000"
	padded = padded[:6]
	n := 0
	for _, c := range padded {
		n = n*10 + int(c-'0')
	}
	return &n
}

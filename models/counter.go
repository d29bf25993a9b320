package models

import "regexp"

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Counter identifies one of the three counter columns.
type Counter int

const (
	CounterLikes Counter = iota + 1
	CounterShares
	CounterViews
)

// Column names are only ever taken from this table, never from request input.
var counterColumns = map[Counter]string{
	CounterLikes:  "likes",
	CounterShares: "shares",
	CounterViews:  "views",
}

var incrementTypes = map[string]Counter{
	"like":  CounterLikes,
	"share": CounterShares,
	"view":  CounterViews,
}

var totalTypes = map[string]Counter{
	"likes":  CounterLikes,
	"shares": CounterShares,
	"views":  CounterViews,
}

// Column returns the column backing the counter, or "" for an unknown value.
func (c Counter) Column() string {
	return counterColumns[c]
}

func (c Counter) String() string {
	if col := c.Column(); col != "" {
		return col
	}
	return "unknown"
}

// Counters lists every counter in column order.
func Counters() []Counter {
	return []Counter{CounterLikes, CounterShares, CounterViews}
}

// ParseIncrementType maps the singular POST type (like, share, view).
func ParseIncrementType(s string) (Counter, bool) {
	c, ok := incrementTypes[s]
	return c, ok
}

// ParseTotalType maps the plural total type (likes, shares, views).
func ParseTotalType(s string) (Counter, bool) {
	c, ok := totalTypes[s]
	return c, ok
}

// ValidProjectID reports whether id is a usable project identifier.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

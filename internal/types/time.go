// time.go — Wire timestamp formatting.
package types

import "time"

// TimestampLayout is the ISO-8601 UTC layout used on the wire, with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp renders t in the wire format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

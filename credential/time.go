package credential

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnixTime is a timestamp persisted as a quoted unix-seconds string, the
// representation the cross-language cache schema mandates. Some writers emit
// bare numbers instead of strings, so both are accepted on the way in.
type UnixTime struct {
	T time.Time
}

// NewUnixTime truncates t to second precision, matching the wire resolution.
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{T: t.Truncate(time.Second)}
}

// IsZero reports whether the timestamp was never set.
func (u UnixTime) IsZero() bool {
	return u.T.IsZero()
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	// A never-set timestamp serializes as an empty string, not as the unix
	// form of Go's zero time, which cross-language readers would take for a
	// real instant.
	if u.T.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(u.T.Unix(), 10))), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		u.T = time.Time{}
		return nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q is not unix seconds: %w", s, err)
	}
	u.T = time.Unix(sec, 0).UTC()
	return nil
}

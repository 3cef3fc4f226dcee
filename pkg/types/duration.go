package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration wraps time.Duration so config and db values can be given as
// "30s"-style strings or as plain seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var o interface{}

	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}

	switch t := o.(type) {
	case string:
		dd, err := time.ParseDuration(t)
		if err != nil {
			return err
		}

		*d = Duration(dd)

	case float64:
		*d = Duration(int64(t * float64(time.Second)))

	case int64:
		*d = Duration(t * int64(time.Second))
	case int:
		*d = Duration(t * int(time.Second))

	default:
		return fmt.Errorf("unsupported type %T value: %v", t, t)
	}

	return nil
}

// Scan accepts integer seconds from the database, NULL meaning zero. The
// text protocol hands integer columns over as bytes, so "10" must parse as
// 10 seconds before the duration syntax is tried.
func (d *Duration) Scan(src interface{}) error {
	if src == nil {
		*d = 0
		return nil
	}

	switch t := src.(type) {
	case int64:
		*d = Duration(t * int64(time.Second))
	case float64:
		*d = Duration(int64(t * float64(time.Second)))
	case []byte:
		return d.scanString(string(t))
	case string:
		return d.scanString(t)
	default:
		return fmt.Errorf("unsupported duration column type %T value: %v", t, t)
	}

	return nil
}

func (d *Duration) scanString(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n * int64(time.Second))
		return nil
	}

	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(dd)
	return nil
}

func (d Duration) Value() (driver.Value, error) {
	return int64(d.Duration() / time.Second), nil
}

package eventpipe

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedValue is returned when a stored value cannot be decoded.
// It signals a corrupt or tampered store and is never user-recoverable.
var ErrMalformedValue = errors.New("malformed stored value")

// Encode returns the key/value pairs to persist for c.
// The enable and rundown keys are always present; the others only when set.
func Encode(c Configuration) map[string]string {
	values := map[string]string{
		KeyEnable: strconv.FormatUint(uint64(c.EnableValue), 10),
	}
	if c.ProviderConfiguration != "" {
		values[KeyProviderConfiguration] = c.ProviderConfiguration
	}
	if c.TraceFilePath != "" {
		values[KeyOutputFile] = c.TraceFilePath
	}
	if c.CircularMB != 0 {
		values[KeyCircularMB] = strconv.FormatUint(uint64(c.CircularMB), 10)
	}
	if c.Rundown {
		values[KeyRundown] = "1"
	} else {
		values[KeyRundown] = "0"
	}
	return values
}

// LookupFunc returns the stored value for key and whether it is present.
type LookupFunc func(key string) (string, bool, error)

// Decode builds a configuration from stored values, starting from Absent.
func Decode(lookup LookupFunc) (Configuration, error) {
	c := Absent()

	if v, ok, err := lookup(KeyEnable); err != nil {
		return c, err
	} else if ok {
		n, err := parseUint32(KeyEnable, v)
		if err != nil {
			return c, err
		}
		c.EnableValue = n
	}

	if v, ok, err := lookup(KeyProviderConfiguration); err != nil {
		return c, err
	} else if ok {
		c.ProviderConfiguration = v
	}

	if v, ok, err := lookup(KeyOutputFile); err != nil {
		return c, err
	} else if ok {
		c.TraceFilePath = v
	}

	if v, ok, err := lookup(KeyCircularMB); err != nil {
		return c, err
	} else if ok {
		n, err := parseUint32(KeyCircularMB, v)
		if err != nil {
			return c, err
		}
		c.CircularMB = n
	}

	if v, ok, err := lookup(KeyRundown); err != nil {
		return c, err
	} else if ok {
		switch v {
		case "0":
			c.Rundown = false
		case "1":
			c.Rundown = true
		default:
			return c, fmt.Errorf("%w: %s=%q is out of range (want 0 or 1)", ErrMalformedValue, KeyRundown, v)
		}
	}

	return c, nil
}

// parseUint32 accepts plain decimal digits only: no sign, no surrounding space.
func parseUint32(key, v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrMalformedValue, key, v, err)
	}
	return uint32(n), nil
}

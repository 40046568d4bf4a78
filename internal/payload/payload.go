// Package payload validates the size and shape of untrusted JSON-like
// input before any capability sees it.
package payload

import "fmt"

// Limits bounds the accepted payload shape. A zero field means the
// corresponding check is skipped.
type Limits struct {
	MaxBytes        int
	MaxDepth        int
	MaxStringLength int
	MaxArrayLength  int
	MaxKeyLength    int
}

// DefaultLimits mirror the config defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:        1024 * 1024,
		MaxDepth:        10,
		MaxStringLength: 10000,
		MaxArrayLength:  1000,
		MaxKeyLength:    100,
	}
}

// CheckSize verifies the serialized payload size fits within MaxBytes.
func CheckSize(size int, l Limits) error {
	if l.MaxBytes > 0 && size > l.MaxBytes {
		return fmt.Errorf("payload is %d bytes, limit is %d", size, l.MaxBytes)
	}
	return nil
}

// Check walks a decoded payload and rejects adversarial structure: nesting
// deeper than MaxDepth, over-long strings or arrays, non-string map keys,
// and over-long keys. Size and structure are independent checks; a small
// payload can still be pathologically deep or wide.
func Check(v any, l Limits) error {
	return walk(v, l, 1)
}

func walk(v any, l Limits, depth int) error {
	if l.MaxDepth > 0 && depth > l.MaxDepth {
		return fmt.Errorf("nesting depth %d exceeds limit %d", depth, l.MaxDepth)
	}

	switch val := v.(type) {
	case string:
		if l.MaxStringLength > 0 && len(val) > l.MaxStringLength {
			return fmt.Errorf("string of %d chars exceeds limit %d", len(val), l.MaxStringLength)
		}
	case []any:
		if l.MaxArrayLength > 0 && len(val) > l.MaxArrayLength {
			return fmt.Errorf("array of %d items exceeds limit %d", len(val), l.MaxArrayLength)
		}
		for _, item := range val {
			if err := walk(item, l, depth+1); err != nil {
				return err
			}
		}
	case map[string]any:
		for k, item := range val {
			if l.MaxKeyLength > 0 && len(k) > l.MaxKeyLength {
				return fmt.Errorf("key of %d chars exceeds limit %d", len(k), l.MaxKeyLength)
			}
			if err := walk(item, l, depth+1); err != nil {
				return err
			}
		}
	case map[any]any:
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return fmt.Errorf("non-string key %v", k)
			}
			if l.MaxKeyLength > 0 && len(key) > l.MaxKeyLength {
				return fmt.Errorf("key of %d chars exceeds limit %d", len(key), l.MaxKeyLength)
			}
			if err := walk(item, l, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

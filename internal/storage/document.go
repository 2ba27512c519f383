package storage

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

// ErrInvalidField is returned for filter or order fields outside [A-Za-z0-9_]
type ErrInvalidField struct {
	Field string
}

func (e *ErrInvalidField) Error() string {
	return fmt.Sprintf("invalid document field %q", e.Field)
}

func validField(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

func checkQuery(collection string, filter interfaces.Filter, order interfaces.OrderBy) error {
	if !validField(collection) {
		return &ErrInvalidField{Field: collection}
	}
	for _, c := range filter {
		if !validField(c.Field) {
			return &ErrInvalidField{Field: c.Field}
		}
	}
	if order.Field != "" && !validField(order.Field) {
		return &ErrInvalidField{Field: order.Field}
	}
	return nil
}

func encodeRecord(record any) ([]byte, error) {
	if raw, ok := record.(json.RawMessage); ok {
		return raw, nil
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("encode record: %T is not a JSON object", record)
	}
	return body, nil
}

// scalar reduces a filter value to the form SQL json extraction yields:
// string, int64, float64 or nil. Booleans become 1 or 0.
func scalar(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		if rv.Bool() {
			return int64(1), nil
		}
		return int64(0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("unsupported filter value %T", v)
}

// jsonScalar reduces a decoded JSON value the same way scalar reduces a filter value
func jsonScalar(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case string:
		return t
	case nil:
		return nil
	}
	// objects and arrays never equal a scalar
	return struct{}{}
}

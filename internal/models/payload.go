package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is an opaque structured key-value document stored as JSONB.
type Payload map[string]interface{}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src interface{}) error {
	if src == nil {
		*p = Payload{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonbValue marshals v for storage in a jsonb column.
func jsonbValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonb value: %w", err)
	}
	return data, nil
}

// jsonbScan unmarshals a jsonb column into dst. Accepts []byte or string;
// a SQL NULL leaves dst zero-valued.
func jsonbScan(dst any, src any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshaling jsonb value: %w", err)
	}
	return nil
}

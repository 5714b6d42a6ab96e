package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSON text column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	return jsonValue(l)
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	return jsonScan(src, l)
}

// Clone returns a copy that shares no backing array with l
func (l StringList) Clone() StringList {
	if l == nil {
		return nil
	}
	c := make(StringList, len(l))
	copy(c, l)
	return c
}

// Questions is the ordered question list of a test
type Questions []Question

func (q Questions) Value() (driver.Value, error) { return jsonValue(q) }
func (q *Questions) Scan(src interface{}) error  { return jsonScan(src, q) }

// Answers is the answer list of an attempt
type Answers []Answer

func (a Answers) Value() (driver.Value, error) { return jsonValue(a) }
func (a *Answers) Scan(src interface{}) error  { return jsonScan(src, a) }

// FeedbackList is the per-question feedback of an attempt
type FeedbackList []Feedback

func (f FeedbackList) Value() (driver.Value, error) { return jsonValue(f) }
func (f *FeedbackList) Scan(src interface{}) error  { return jsonScan(src, f) }

// Value implements driver.Valuer
func (m PhaseMetadata) Value() (driver.Value, error) { return jsonValue(m) }

// Scan implements sql.Scanner
func (m *PhaseMetadata) Scan(src interface{}) error { return jsonScan(src, m) }

func jsonValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(data), nil
}

func jsonScan(src interface{}, dest interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dest)
}

package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencivic/eventbrite-warehouse/internal/warehouse"
)

// Transforms reshape raw Eventbrite payloads into flat records for the
// warehouse. Each transform copies the payload, flattens the nested
// fields the tables care about, and stamps load_datetime; fields the
// destination table does not know are dropped later by column
// intersection. A missing required nested field is a data shape
// mismatch and fails the transform.

// TransformEvent flattens an event payload. Start and end timestamps are
// taken from the source's UTC representation so the stored instants are
// absolute.
func TransformEvent(raw map[string]any, loadedAt time.Time) (warehouse.Record, error) {
	record := copyRecord(raw)

	start, err := nestedTime(raw, "start", "utc")
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	record["start_datetime"] = start

	end, err := nestedTime(raw, "end", "utc")
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	record["end_datetime"] = end

	name, err := nested(raw, "name", "text")
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	record["name"] = name

	description, err := nested(raw, "description", "text")
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	record["description"] = description

	record["load_datetime"] = loadedAt.UTC()
	return record, nil
}

// TransformAttendee flattens an attendee payload. Profile fields are
// optional and copied only when the source supplies them.
func TransformAttendee(raw map[string]any, loadedAt time.Time) (warehouse.Record, error) {
	record := copyRecord(raw)

	if profile, ok := raw["profile"].(map[string]any); ok {
		for _, field := range []string{"name", "first_name", "last_name", "email"} {
			if v, ok := profile[field]; ok {
				record[field] = v
			}
		}
	}

	cost, err := grossCost(raw)
	if err != nil {
		return nil, fmt.Errorf("attendee: %w", err)
	}
	record["cost"] = cost

	record["load_datetime"] = loadedAt.UTC()
	return record, nil
}

// TransformOrder flattens an order payload.
func TransformOrder(raw map[string]any, loadedAt time.Time) (warehouse.Record, error) {
	record := copyRecord(raw)

	cost, err := grossCost(raw)
	if err != nil {
		return nil, fmt.Errorf("order: %w", err)
	}
	record["cost"] = cost

	record["load_datetime"] = loadedAt.UTC()
	return record, nil
}

// TransformVenue flattens a venue payload: address fields are promoted
// to the top level and coordinates parsed to floating point.
func TransformVenue(raw map[string]any, loadedAt time.Time) (warehouse.Record, error) {
	record := copyRecord(raw)

	address, ok := raw["address"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("venue: missing address")
	}
	for field, value := range address {
		record[field] = value
	}

	for _, field := range []string{"latitude", "longitude"} {
		v, ok := raw[field]
		if !ok {
			return nil, fmt.Errorf("venue: missing %s", field)
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", field, err)
		}
		record[field] = f
	}

	record["load_datetime"] = loadedAt.UTC()
	return record, nil
}

// copyRecord shallow-copies a payload so transforms never mutate the
// caller's map.
func copyRecord(raw map[string]any) warehouse.Record {
	record := make(warehouse.Record, len(raw)+4)
	for k, v := range raw {
		record[k] = v
	}
	return record
}

// nested walks a path of object keys. Every step must exist; the final
// value may be null.
func nested(raw map[string]any, path ...string) (any, error) {
	var current any = raw
	for i, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s is not an object", strings.Join(path[:i], "."))
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("missing field %s", strings.Join(path[:i+1], "."))
		}
	}
	return current, nil
}

// nestedTime reads a nested RFC3339 timestamp and normalizes it to UTC.
func nestedTime(raw map[string]any, path ...string) (time.Time, error) {
	v, err := nested(raw, path...)
	if err != nil {
		return time.Time{}, err
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %s is not a timestamp", strings.Join(path, "."))
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// The source sometimes omits the zone designator on its UTC field.
		t, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s: %w", strings.Join(path, "."), err)
		}
	}
	return t.UTC(), nil
}

// grossCost extracts costs.gross.major_value as a float.
func grossCost(raw map[string]any) (float64, error) {
	v, err := nested(raw, "costs", "gross", "major_value")
	if err != nil {
		return 0, err
	}
	return toFloat(v)
}

// toFloat converts the source's text-or-number values to float64.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("cannot parse %T as float", v)
	}
}

// stringField reads a required top-level string field, typically an id.
func stringField(raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", fmt.Errorf("missing field %s", field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %s is not a usable string", field)
	}
	return s, nil
}

// optionalString returns v as a string when it is one, otherwise "".
func optionalString(v any) string {
	s, _ := v.(string)
	return s
}

package loader

import (
	"testing"
	"time"
)

func sampleEvent() map[string]any {
	return map[string]any{
		"id":          "e1",
		"name":        map[string]any{"text": "Spring Gala", "html": "<b>Spring Gala</b>"},
		"description": map[string]any{"text": "Annual fundraiser"},
		"start":       map[string]any{"timezone": "America/Chicago", "utc": "2026-05-12T02:00:00Z"},
		"end":         map[string]any{"timezone": "America/Chicago", "utc": "2026-05-12T05:00:00Z"},
		"venue_id":    "v1",
	}
}

func TestTransformEvent_FlattensAndNormalizes(t *testing.T) {
	loadedAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	record, err := TransformEvent(sampleEvent(), loadedAt)
	if err != nil {
		t.Fatalf("TransformEvent: %v", err)
	}

	if record["name"] != "Spring Gala" {
		t.Fatalf("name = %v", record["name"])
	}
	if record["description"] != "Annual fundraiser" {
		t.Fatalf("description = %v", record["description"])
	}

	start := record["start_datetime"].(time.Time)
	want := time.Date(2026, 5, 12, 2, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("start_datetime = %v, want %v", start, want)
	}
	if start.Location() != time.UTC {
		t.Fatalf("start_datetime not normalized to UTC: %v", start.Location())
	}
	if got := record["load_datetime"].(time.Time); !got.Equal(loadedAt) {
		t.Fatalf("load_datetime = %v", got)
	}
}

func TestTransformEvent_MissingStartIsShapeMismatch(t *testing.T) {
	raw := sampleEvent()
	delete(raw, "start")

	if _, err := TransformEvent(raw, time.Now()); err == nil {
		t.Fatal("expected error for missing start.utc")
	}
}

func TestTransformEvent_DoesNotMutateInput(t *testing.T) {
	raw := sampleEvent()
	if _, err := TransformEvent(raw, time.Now()); err != nil {
		t.Fatalf("TransformEvent: %v", err)
	}
	if _, ok := raw["name"].(map[string]any); !ok {
		t.Fatal("transform mutated the raw payload")
	}
}

func TestTransformAttendee_CostAndOptionalProfile(t *testing.T) {
	raw := map[string]any{
		"id": "a1",
		"profile": map[string]any{
			"name":  "Ann Example",
			"email": "ann@example.com",
			// first_name/last_name deliberately absent
		},
		"costs": map[string]any{
			"gross": map[string]any{"major_value": "12.50", "currency": "USD"},
		},
	}

	record, err := TransformAttendee(raw, time.Now())
	if err != nil {
		t.Fatalf("TransformAttendee: %v", err)
	}

	if record["cost"] != 12.5 {
		t.Fatalf("cost = %v, want 12.5", record["cost"])
	}
	if record["name"] != "Ann Example" || record["email"] != "ann@example.com" {
		t.Fatalf("profile fields not promoted: %v", record)
	}
	if _, ok := record["first_name"]; ok {
		t.Fatal("absent profile field must stay absent")
	}
}

func TestTransformAttendee_MissingCostIsShapeMismatch(t *testing.T) {
	raw := map[string]any{"id": "a1", "costs": map[string]any{}}
	if _, err := TransformAttendee(raw, time.Now()); err == nil {
		t.Fatal("expected error for missing costs.gross.major_value")
	}
}

func TestTransformOrder_Cost(t *testing.T) {
	raw := map[string]any{
		"id":    "o1",
		"costs": map[string]any{"gross": map[string]any{"major_value": "99.00"}},
	}

	record, err := TransformOrder(raw, time.Now())
	if err != nil {
		t.Fatalf("TransformOrder: %v", err)
	}
	if record["cost"] != 99.0 {
		t.Fatalf("cost = %v", record["cost"])
	}
}

func TestTransformVenue_FlattensAddressAndParsesCoordinates(t *testing.T) {
	raw := map[string]any{
		"id": "v1",
		"address": map[string]any{
			"address_1":   "100 Main St",
			"city":        "Chicago",
			"region":      "IL",
			"postal_code": "60601",
		},
		"latitude":  "41.8781",
		"longitude": "-87.6298",
	}

	record, err := TransformVenue(raw, time.Now())
	if err != nil {
		t.Fatalf("TransformVenue: %v", err)
	}

	if record["city"] != "Chicago" || record["address_1"] != "100 Main St" {
		t.Fatalf("address not flattened: %v", record)
	}
	if record["latitude"] != 41.8781 || record["longitude"] != -87.6298 {
		t.Fatalf("coordinates not parsed: lat=%v lon=%v", record["latitude"], record["longitude"])
	}
	if _, ok := record["load_datetime"].(time.Time); !ok {
		t.Fatal("venue record missing load_datetime")
	}
}

func TestTransformVenue_MissingAddressIsShapeMismatch(t *testing.T) {
	raw := map[string]any{"id": "v1", "latitude": "1", "longitude": "2"}
	if _, err := TransformVenue(raw, time.Now()); err == nil {
		t.Fatal("expected error for missing address")
	}
}

// Every transformed record's load timestamp is after the instant
// recorded before the transformation began.
func TestLoadTimestampStamping(t *testing.T) {
	before := time.Now()

	record, err := TransformEvent(sampleEvent(), time.Now())
	if err != nil {
		t.Fatalf("TransformEvent: %v", err)
	}

	loaded := record["load_datetime"].(time.Time)
	if !loaded.After(before) {
		t.Fatalf("load_datetime %v not after %v", loaded, before)
	}
}

package fieldsync_test

import (
	"testing"
	"time"

	"github.com/hyperengineering/fieldsync"
)

func TestOp_IsValid(t *testing.T) {
	for _, op := range []fieldsync.Op{fieldsync.OpAdd, fieldsync.OpUpdate, fieldsync.OpDelete} {
		if !op.IsValid() {
			t.Errorf("Op(%q).IsValid() = false, want true", op)
		}
	}
	if fieldsync.Op("upsert").IsValid() {
		t.Error(`Op("upsert").IsValid() = true, want false`)
	}
}

// TestRecordFields verifies the remote body carries the origin tag and no createdAt.
func TestRecordFields(t *testing.T) {
	r := fieldsync.Record{
		LocalID:   7,
		Date:      "2024-03-01",
		Customer:  "Estancia Norte",
		Area:      "12",
		Unit:      "ha",
		Inputs:    []fieldsync.Input{{Product: "glyphosate", Liters: 3.5}},
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	f := r.Fields("client-a")
	if f[fieldsync.FieldClientID] != "client-a" {
		t.Errorf("clientId = %v, want client-a", f[fieldsync.FieldClientID])
	}
	if _, ok := f[fieldsync.FieldCreatedAt]; ok {
		t.Error("Fields should not carry createdAt")
	}
	if f[fieldsync.FieldCustomer] != "Estancia Norte" {
		t.Errorf("customer = %v, want Estancia Norte", f[fieldsync.FieldCustomer])
	}
	inputs, ok := f[fieldsync.FieldInputs].([]any)
	if !ok || len(inputs) != 1 {
		t.Fatalf("inputs = %#v, want one entry", f[fieldsync.FieldInputs])
	}
}

func TestRecordFromFields_Defaults(t *testing.T) {
	r := fieldsync.RecordFromFields("doc-1", fieldsync.Fields{"customer": "Acme"})

	if r.RemoteID != "doc-1" {
		t.Errorf("RemoteID = %q, want doc-1", r.RemoteID)
	}
	if r.Customer != "Acme" {
		t.Errorf("Customer = %q, want Acme", r.Customer)
	}
	if r.Date != "" || r.Location != "" || r.Notes != "" {
		t.Errorf("absent fields should be empty, got %+v", r)
	}
	if r.Inputs == nil || len(r.Inputs) != 0 {
		t.Errorf("Inputs = %#v, want empty slice", r.Inputs)
	}
	if !r.CreatedAt.IsZero() {
		t.Errorf("CreatedAt = %v, want zero", r.CreatedAt)
	}
}

func TestRecordFromFields_CreatedAtFormats(t *testing.T) {
	want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name  string
		value any
	}{
		{"time", want},
		{"rfc3339", want.Format(time.RFC3339)},
		{"unix millis", float64(want.UnixMilli())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fieldsync.RecordFromFields("x", fieldsync.Fields{"createdAt": tt.value})
			if !r.CreatedAt.Equal(want) {
				t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, want)
			}
		})
	}
}

func TestRecordFromFields_Inputs(t *testing.T) {
	r := fieldsync.RecordFromFields("x", fieldsync.Fields{
		"inputs": []any{
			map[string]any{"product": "atrazine", "liters": 2.0},
			map[string]any{"product": "oil"},
			"garbage",
		},
	})
	if len(r.Inputs) != 2 {
		t.Fatalf("len(Inputs) = %d, want 2", len(r.Inputs))
	}
	if r.Inputs[0] != (fieldsync.Input{Product: "atrazine", Liters: 2}) {
		t.Errorf("Inputs[0] = %+v", r.Inputs[0])
	}
	if r.Inputs[1] != (fieldsync.Input{Product: "oil"}) {
		t.Errorf("Inputs[1] = %+v", r.Inputs[1])
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		in      string
		want    fieldsync.Input
		wantErr bool
	}{
		{"glyphosate=3.5", fieldsync.Input{Product: "glyphosate", Liters: 3.5}, false},
		{" 2,4-D = 1 ", fieldsync.Input{Product: "2,4-D", Liters: 1}, false},
		{"glyphosate", fieldsync.Input{}, true},
		{"=2", fieldsync.Input{}, true},
		{"glyphosate=lots", fieldsync.Input{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := fieldsync.ParseInput(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInput(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInput(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

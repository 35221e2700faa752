package fieldsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is a single field-work job as held in the local store.
type Record struct {
	// LocalID is assigned by the store on insert and never changes.
	LocalID int64 `json:"local_id"`

	// RemoteID is the remote authority's document id. Empty until the
	// record's creation has been confirmed remotely.
	RemoteID string `json:"remote_id,omitempty"`

	// ClientID tags the client that made the latest write.
	ClientID string `json:"client_id,omitempty"`

	Date           string  `json:"date"`
	Customer       string  `json:"customer"`
	Location       string  `json:"location"`
	Area           string  `json:"area"`
	Unit           string  `json:"unit"`
	Inputs         []Input `json:"inputs"`
	Recommendation string  `json:"recommendation"`
	Notes          string  `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
}

// Input is a product applied during a job.
type Input struct {
	Product string  `json:"product"`
	Liters  float64 `json:"liters"`
}

// Op is the kind of mutation an outbox entry replays.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IsValid checks if the op is one the sync engine can replay.
func (o Op) IsValid() bool {
	switch o {
	case OpAdd, OpUpdate, OpDelete:
		return true
	}
	return false
}

// OutboxEntry is a queued mutation awaiting replay against the remote authority.
type OutboxEntry struct {
	ID       int64     `json:"id"`
	Op       Op        `json:"op"`
	Payload  Record    `json:"payload"`
	LocalID  *int64    `json:"local_id,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
}

// Fields is the body of a remote document.
type Fields map[string]any

// Remote document field names.
const (
	FieldDate           = "date"
	FieldCustomer       = "customer"
	FieldLocation       = "location"
	FieldArea           = "area"
	FieldUnit           = "unit"
	FieldInputs         = "inputs"
	FieldRecommendation = "recommendation"
	FieldNotes          = "notes"
	FieldClientID       = "clientId"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
)

// ChangeType classifies a remote change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one document change delivered by a remote subscription.
type Change struct {
	Type     ChangeType `json:"type"`
	RemoteID string     `json:"id"`
	Fields   Fields     `json:"fields,omitempty"`
}

// Fields builds the remote document body for the record, tagged with
// clientID. createdAt is left for the authority to stamp.
func (r Record) Fields(clientID string) Fields {
	inputs := make([]any, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		inputs = append(inputs, map[string]any{"product": in.Product, "liters": in.Liters})
	}
	return Fields{
		FieldDate:           r.Date,
		FieldCustomer:       r.Customer,
		FieldLocation:       r.Location,
		FieldArea:           r.Area,
		FieldUnit:           r.Unit,
		FieldInputs:         inputs,
		FieldRecommendation: r.Recommendation,
		FieldNotes:          r.Notes,
		FieldClientID:       clientID,
	}
}

// RecordFromFields maps a remote document onto a Record. Absent or
// mistyped fields take their empty value; a missing createdAt leaves
// CreatedAt zero.
func RecordFromFields(remoteID string, f Fields) Record {
	r := Record{
		RemoteID:       remoteID,
		ClientID:       stringField(f, FieldClientID),
		Date:           stringField(f, FieldDate),
		Customer:       stringField(f, FieldCustomer),
		Location:       stringField(f, FieldLocation),
		Area:           stringField(f, FieldArea),
		Unit:           stringField(f, FieldUnit),
		Recommendation: stringField(f, FieldRecommendation),
		Notes:          stringField(f, FieldNotes),
		Inputs:         []Input{},
	}
	if t, ok := timeField(f, FieldCreatedAt); ok {
		r.CreatedAt = t
	}
	if raw, ok := f[FieldInputs].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			in := Input{}
			in.Product, _ = m["product"].(string)
			in.Liters = numberValue(m["liters"])
			r.Inputs = append(r.Inputs, in)
		}
	}
	return r
}

func stringField(f Fields, key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// timeField accepts a time.Time, an RFC 3339 string, or Unix milliseconds.
func timeField(f Fields, key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v.UTC(), !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	}
	return time.Time{}, false
}

func numberValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

// ParseInput parses "product=liters" into an Input.
func ParseInput(s string) (Input, error) {
	product, liters, ok := strings.Cut(s, "=")
	product = strings.TrimSpace(product)
	if !ok || product == "" {
		return Input{}, fmt.Errorf("invalid input %q: want product=liters", s)
	}
	l, err := strconv.ParseFloat(strings.TrimSpace(liters), 64)
	if err != nil {
		return Input{}, fmt.Errorf("invalid liters in %q: %w", s, err)
	}
	return Input{Product: product, Liters: l}, nil
}

// StoreStats contains local store statistics.
type StoreStats struct {
	RecordCount   int       `json:"record_count"`
	PendingCount  int       `json:"pending_count"`
	UnsyncedCount int       `json:"unsynced_count"`
	SchemaVersion string    `json:"schema_version"`
	LastDrain     time.Time `json:"last_drain,omitempty"`
}

// Stats describes the client's local and sync state.
type Stats struct {
	StoreStats
	ClientID       string `json:"client_id,omitempty"`
	Online         bool   `json:"online"`
	ListenerActive bool   `json:"listener_active"`
	// IdentityError is set while sign-in has failed; queued changes are
	// not replayed until an identity is issued.
	IdentityError string `json:"identity_error,omitempty"`
}

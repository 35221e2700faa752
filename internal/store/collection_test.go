package store_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/hyperengineering/fieldsync/internal/store"
)

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "jobs", false},
		{"with numbers", "jobs-2024", false},
		{"single char", "a", false},
		{"multi-segment", "org/team/jobs", false},
		{"max segments (4)", "a/b/c/d", false},

		{"empty", "", true},
		{"uppercase", "Jobs", true},
		{"leading hyphen", "-jobs", true},
		{"trailing hyphen", "jobs-", true},
		{"consecutive hyphens", "spray--jobs", true},
		{"underscore", "spray_jobs", true},
		{"space", "spray jobs", true},
		{"too many segments (5)", "a/b/c/d/e", true},
		{"empty segment", "org//jobs", true},
		{"too long", strings.Repeat("a", 257), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateCollection(tt.id)
			if tt.wantErr && !errors.Is(err, store.ErrInvalidCollection) {
				t.Errorf("ValidateCollection(%q) = %v, want ErrInvalidCollection", tt.id, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCollection(%q) unexpected error: %v", tt.id, err)
			}
		})
	}
}

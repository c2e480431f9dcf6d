package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/account-service/internal/store"
)

// toAttributes converts an item struct into the generic attribute map stored
// by every backend.
func toAttributes(item any) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return attrs, nil
}

// fromAttributes decodes a stored attribute map into an item struct.
func fromAttributes(rec *store.Record, item any) error {
	data, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrCorrupt, rec.Key, err)
	}
	if err := json.Unmarshal(data, item); err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrCorrupt, rec.Key, err)
	}
	return nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SearchIndex stores entity snapshots keyed by id.
type SearchIndex interface {
	Upsert(ctx context.Context, collection, id string, doc map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// indexed maps envelope keys to index collections.
var indexed = map[string]string{
	"order":   "orders",
	"product": "products",
}

// IndexHandler applies order and product envelopes to the search index.
func IndexHandler(index SearchIndex) Handler {
	return func(ctx context.Context, msg Message) error {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		var action string
		if raw, ok := envelope["action"]; ok {
			if err := json.Unmarshal(raw, &action); err != nil {
				return fmt.Errorf("decode action: %w", err)
			}
		}

		for entity, collection := range indexed {
			raw, ok := envelope[entity]
			if !ok {
				continue
			}

			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode %s: %w", entity, err)
			}

			id, err := documentID(doc)
			if err != nil {
				return fmt.Errorf("%s: %w", entity, err)
			}

			if action == ActionDelete {
				return index.Delete(ctx, collection, id)
			}
			return index.Upsert(ctx, collection, id, doc)
		}

		// unknown entity, nothing to index
		return nil
	}
}

func documentID(doc map[string]any) (string, error) {
	switch id := doc["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}
	return "", errors.New("snapshot has no id")
}

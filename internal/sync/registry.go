package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mirror-sync-service/internal/store"
)

// DecodeFunc validates a remote record and applies it onto the existing local
// copy (nil when the record is new). Returning a *ValidationError rejects only
// this record.
type DecodeFunc func(rec RemoteRecord, existing *store.Record) (*store.Record, error)

// UpsertFunc commits a decoded record in its own transaction.
type UpsertFunc func(ctx context.Context, s store.Store, rec *store.Record) error

type EntityType struct {
	Name   string
	Decode DecodeFunc
	Upsert UpsertFunc
}

// Registry maps catalog entity names to their codecs. It is built once at
// startup and read-only afterwards.
type Registry struct {
	types map[string]EntityType
}

func NewRegistry(types ...EntityType) *Registry {
	r := &Registry{types: make(map[string]EntityType, len(types))}
	for _, t := range types {
		if t.Upsert == nil {
			t.Upsert = saveRecord
		}
		r.types[t.Name] = t
	}
	return r
}

func (r *Registry) Lookup(name string) (EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry lists the registry entity types the mirror carries.
func DefaultRegistry() *Registry {
	return NewRegistry(
		DocumentType("category", "name"),
		DocumentType("resource", "name"),
		DocumentType("study", "title"),
		DocumentType("investigator", "name", "email"),
		DocumentType("participant"),
		DocumentType("questionnaire_response", "study_id"),
	)
}

// DocumentType stores the record as its JSON document. The listed fields must
// be present and non-empty once the incoming fields are applied.
func DocumentType(name string, required ...string) EntityType {
	return EntityType{
		Name: name,
		Decode: func(rec RemoteRecord, existing *store.Record) (*store.Record, error) {
			if rec.ID == "" {
				return nil, &ValidationError{Reason: "id is required"}
			}

			var incoming map[string]json.RawMessage
			if err := json.Unmarshal(rec.Payload, &incoming); err != nil || incoming == nil {
				return nil, &ValidationError{RecordID: rec.ID, Reason: "payload is not a JSON object"}
			}

			doc := map[string]json.RawMessage{}
			if existing != nil && len(existing.Payload) > 0 {
				if err := json.Unmarshal(existing.Payload, &doc); err != nil {
					return nil, &ValidationError{RecordID: rec.ID, Reason: fmt.Sprintf("stored copy is unreadable: %v", err)}
				}
			}
			for k, v := range incoming {
				doc[k] = v
			}

			var missing []string
			for _, field := range required {
				if isBlank(doc[field]) {
					missing = append(missing, field)
				}
			}
			if len(missing) > 0 {
				return nil, &ValidationError{RecordID: rec.ID, Reason: strings.Join(missing, ", ") + " required"}
			}

			payload, err := json.Marshal(doc)
			if err != nil {
				return nil, &ValidationError{RecordID: rec.ID, Reason: err.Error()}
			}
			return &store.Record{EntityName: name, RecordID: rec.ID, Payload: payload}, nil
		},
		Upsert: saveRecord,
	}
}

func isBlank(raw json.RawMessage) bool {
	if len(raw) == 0 || isNull(raw) {
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func saveRecord(ctx context.Context, s store.Store, rec *store.Record) error {
	return s.SaveRecord(ctx, rec)
}

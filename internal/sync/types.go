package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects between watermark-filtered and complete fetches.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeIncremental, "":
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

type Sensitivity string

const (
	Unrestricted Sensitivity = "unrestricted"
	Identifying  Sensitivity = "identifying"
	Sensitive    Sensitivity = "sensitive"
)

// CatalogEntry describes one entity type exported by the master. Payload is
// filled in by the Fetcher.
type CatalogEntry struct {
	TableName   string         `json:"tableName"`
	EntityName  string         `json:"entityName"`
	RecordCount int            `json:"recordCount"`
	FetchURL    string         `json:"fetchUrl"`
	Sensitivity Sensitivity    `json:"sensitivity"`
	SubEntities []CatalogEntry `json:"subTables,omitempty"`

	Payload []RemoteRecord `json:"-"`
}

// flattenCatalog lists every entry parent-first, followed by its sub-entities.
func flattenCatalog(entries []CatalogEntry) []CatalogEntry {
	var out []CatalogEntry
	for _, e := range entries {
		subs := e.SubEntities
		e.SubEntities = nil
		out = append(out, e)
		out = append(out, flattenCatalog(subs)...)
	}
	return out
}

// Links is the `_links` envelope of a master payload. Self accepts both the
// HAL form {"self": {"href": "..."}} and a bare string.
type Links struct {
	Self string `json:"self,omitempty"`
}

func (l *Links) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	self, ok := raw["self"]
	if !ok || isNull(self) {
		return nil
	}
	var href string
	if err := json.Unmarshal(self, &href); err == nil {
		l.Self = href
		return nil
	}
	var obj struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(self, &obj); err != nil {
		return fmt.Errorf("unsupported _links.self: %w", err)
	}
	l.Self = obj.Href
	return nil
}

// RemoteRecord is one payload fetched from the master with its `_links`
// envelope split off.
type RemoteRecord struct {
	ID      string
	Payload json.RawMessage
	Links   Links
	// LinkErr is set when `_links` was present but could not be decoded.
	LinkErr error
}

// NewRemoteRecord never fails: a payload that is not an object, or has no id,
// comes back with an empty ID and is rejected later as a validation failure.
// A malformed `_links` is reported through LinkErr.
func NewRemoteRecord(raw json.RawMessage) RemoteRecord {
	rec := RemoteRecord{Payload: raw}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return rec
	}

	if links, ok := fields["_links"]; ok {
		if err := json.Unmarshal(links, &rec.Links); err != nil {
			rec.Links = Links{}
			rec.LinkErr = err
		}
		delete(fields, "_links")
		if stripped, err := json.Marshal(fields); err == nil {
			rec.Payload = stripped
		}
	}
	rec.ID = idString(fields["id"])
	return rec
}

// idString normalises numeric and string ids to their string form.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// RunInfo identifies the cycle a merge belongs to.
type RunInfo struct {
	RunID     string
	Mode      Mode
	StartedAt time.Time
}

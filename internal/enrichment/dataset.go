package enrichment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ReferenceDataset maps bare IPv4 addresses to a pre-resolved record. It is
// consulted before any external provider.
type ReferenceDataset struct {
	name    string
	records map[string]map[string]any
}

// NewReferenceDataset wraps an in-memory address map.
func NewReferenceDataset(name string, records map[string]map[string]any) *ReferenceDataset {
	if records == nil {
		records = make(map[string]map[string]any)
	}
	return &ReferenceDataset{name: name, records: records}
}

// LoadReferenceDataset reads a JSON object of address → record from path. A
// missing file yields an empty dataset.
func LoadReferenceDataset(path, name string) (*ReferenceDataset, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewReferenceDataset(name, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reference dataset: %w", err)
	}

	var records map[string]map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse reference dataset: %w", err)
	}

	return NewReferenceDataset(name, records), nil
}

// Name returns the dataset tag written into enrichment.source.
func (d *ReferenceDataset) Name() string {
	return d.name
}

// Len returns the number of addresses in the dataset.
func (d *ReferenceDataset) Len() int {
	return len(d.records)
}

// Lookup returns a copy of the record for addr tagged with the dataset name.
func (d *ReferenceDataset) Lookup(addr string) (map[string]any, bool) {
	rec, ok := d.records[addr]
	if !ok {
		return nil, false
	}

	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		if v != nil {
			out[k] = v
		}
	}
	out["source"] = d.name
	return out, true
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// artifactSchema constrains the shape and value ranges of an artifact.
const artifactSchema = `{
  "type": "object",
  "required": ["metadata", "iocs"],
  "properties": {
    "metadata": {
      "type": "object",
      "properties": {
        "total_iocs": {"type": "integer", "minimum": 0},
        "ioc_types": {"type": "object"},
        "sources": {"type": "object"}
      }
    },
    "iocs": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "value": {"type": "string", "minLength": 1},
          "type": {"enum": ["ip", "url"]},
          "source": {"type": "string"},
          "sources": {"type": "array", "minItems": 1, "items": {"type": "string"}, "uniqueItems": true},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "duplicate_count": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

var requiredFields = []string{"id", "value", "type", "source", "confidence"}

// IntegrityReport is the result of CheckIntegrity.
type IntegrityReport struct {
	IsValid   bool      `json:"is_valid"`
	TotalIOCs int       `json:"total_iocs"`
	Issues    []string  `json:"issues"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CheckIntegrity validates the current artifact: count agreement with the
// metadata, required fields, unique ids and the JSON schema.
func (s *Store) CheckIntegrity() IntegrityReport {
	s.mu.RLock()
	data, err := os.ReadFile(s.ArtifactPath())
	s.mu.RUnlock()

	if errors.Is(err, fs.ErrNotExist) {
		md := emptyArtifact().Metadata
		return IntegrityReport{IsValid: true, Issues: []string{}, Metadata: &md}
	}
	if err != nil {
		return failedReport(err)
	}
	return checkArtifact(data)
}

func checkArtifact(data []byte) IntegrityReport {
	var doc struct {
		Metadata Metadata         `json:"metadata"`
		IOCs     []map[string]any `json:"iocs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return failedReport(err)
	}

	issues := []string{}

	if actual, reported := len(doc.IOCs), doc.Metadata.TotalIOCs; actual != reported {
		issues = append(issues, fmt.Sprintf("IOC count mismatch: actual=%d, reported=%d", actual, reported))
	}

	for i, rec := range doc.IOCs {
		var missing []string
		for _, f := range requiredFields {
			if _, ok := rec[f]; !ok {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, fmt.Sprintf("IOC %d missing fields: %v", i, missing))
		}
	}

	seen := make(map[string]int)
	for _, rec := range doc.IOCs {
		if id, ok := rec["id"].(string); ok {
			seen[id]++
		}
	}
	var dupes []string
	for id, n := range seen {
		if n > 1 {
			dupes = append(dupes, id)
		}
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		issues = append(issues, fmt.Sprintf("Duplicate IOC IDs found: %v", dupes))
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(artifactSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		issues = append(issues, fmt.Sprintf("Schema validation failed: %v", err))
	} else if !result.Valid() {
		for _, desc := range result.Errors() {
			issues = append(issues, "Schema violation: "+desc.String())
		}
	}

	return IntegrityReport{
		IsValid:   len(issues) == 0,
		TotalIOCs: len(doc.IOCs),
		Issues:    issues,
		Metadata:  &doc.Metadata,
	}
}

func failedReport(err error) IntegrityReport {
	return IntegrityReport{
		IsValid: false,
		Error:   err.Error(),
		Issues:  []string{fmt.Sprintf("Failed to check integrity: %v", err)},
	}
}

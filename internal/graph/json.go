package graph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// MarshalJSON renders a graph in the canonical wire shape: stable field
// order, IEEE-754 numbers, explicit null for an undefined q_value.
func MarshalJSON(g *models.Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// UnmarshalJSON parses a canonical graph document.
func UnmarshalJSON(data []byte) (*models.Graph, error) {
	var g models.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "parse graph json")
	}
	return &g, nil
}

// WriteJSONFile persists a graph under dir as <segment>.json.
func WriteJSONFile(g *models.Graph, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindResource, err, "create graph dir")
	}
	name := g.Segment
	if name == "" {
		name = "graph"
	}
	// Segment labels embed raw event values; keep them out of path syntax.
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	path := filepath.Join(dir, name+".json")
	data, err := MarshalJSON(g)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.KindResource, err, "write graph %s", path)
	}
	return path, nil
}

// ReadJSONFile loads a graph written by WriteJSONFile.
func ReadJSONFile(path string) (*models.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "read graph %s", path)
	}
	return UnmarshalJSON(data)
}

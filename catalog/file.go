package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dexmirror/dexmirror-go/registry"
)

// FileSource reads a JSON array of records from disk.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load decodes the whole file. The context is accepted for Source
// symmetry, the read itself is local.
func (s *FileSource) Load(_ context.Context) ([]*registry.Pool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", s.path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", s.path, err)
	}
	return buildPools(records)
}

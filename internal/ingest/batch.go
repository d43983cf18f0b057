package ingest

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadBatch reads one evidence batch from a JSON file, for the one-shot
// detect command and offline replays.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence file %s: %w", path, err)
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse evidence file %s: %w", path, err)
	}
	return &batch, nil
}

package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const splitExt = ".jsonl"

// DirSource reads datasets exported as JSON Lines, one file per split:
// <root>/<dataset with "/" replaced by "__">/<split>.jsonl
type DirSource struct {
	root string
}

// NewDirSource creates a source rooted at dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

func (s *DirSource) datasetDir(dataset string) string {
	return filepath.Join(s.root, strings.ReplaceAll(dataset, "/", "__"))
}

// Splits lists the split files of dataset in name order
func (s *DirSource) Splits(ctx context.Context, dataset string) ([]string, error) {
	entries, err := os.ReadDir(s.datasetDir(dataset))
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", dataset, err)
	}

	var splits []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, splitExt) {
			continue
		}
		splits = append(splits, strings.TrimSuffix(name, splitExt))
	}

	sort.Strings(splits)
	return splits, nil
}

// Rows decodes every JSON object of the split file
func (s *DirSource) Rows(ctx context.Context, dataset, split string) ([]Record, error) {
	path := filepath.Join(s.datasetDir(dataset), split+splitExt)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s: record %d: %w", path, line, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

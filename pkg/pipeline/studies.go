package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/report"
)

// LoadStudies reads study JSON documents from a file or from every .json
// file of a directory, in file name order. A study without an ID is named
// after its file.
func LoadStudies(path string) ([]models.Study, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("error listing input directory: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	}

	studies := make([]models.Study, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error reading study file: %w", err)
		}
		var study models.Study
		if err := json.Unmarshal(data, &study); err != nil {
			return nil, fmt.Errorf("error parsing study file %s: %w", file, err)
		}
		if study.ID == "" {
			study.ID = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		studies = append(studies, study)
	}
	return studies, nil
}

// WriteReport saves a report as <dir>/<studyID>.json
func WriteReport(dir, studyID string, r *report.Report, pretty bool) (string, error) {
	data, err := report.Encode(r, pretty)
	if err != nil {
		return "", fmt.Errorf("error encoding report: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}
	path := filepath.Join(dir, studyID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}
	return path, nil
}

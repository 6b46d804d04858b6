package tools

import (
	"log"
	"os"
	"path/filepath"
	"strings"
)

// DatasetFinder locates streamable datasets (ept.json documents and COPC/LAS
// files) under an input path
type DatasetFinder interface {
	GetDatasetsToProcess(input string) []string
}

type StandardDatasetFinder struct{}

func NewStandardDatasetFinder() DatasetFinder {
	return &StandardDatasetFinder{}
}

func (f *StandardDatasetFinder) GetDatasetsToProcess(input string) []string {
	// a file or URL input is a single dataset; a folder is walked for every
	// dataset below it
	info, err := os.Stat(input)
	if err != nil || !info.IsDir() {
		return []string{input}
	}

	var datasets = make([]string, 0)
	err = filepath.Walk(
		input,
		func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			name := strings.ToLower(info.Name())
			if name == "ept.json" || strings.HasSuffix(name, ".las") || strings.HasSuffix(name, ".laz") {
				datasets = append(datasets, path)
			}
			return nil
		},
	)

	if err != nil {
		log.Fatal(err)
	}

	return datasets
}

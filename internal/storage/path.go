package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var sourceExtensions = []string{".csv", ".parquet"}

// BuildSourceKey returns the object key of a dataset source file, optionally
// grouped under a release label such as "2024-06".
func BuildSourceKey(release, fileName string) (string, error) {
	if err := validatePathComponent(fileName, "file name"); err != nil {
		return "", err
	}
	if !IsSourceFile(fileName) {
		return "", fmt.Errorf("unsupported source file %q: want .csv or .parquet", fileName)
	}
	if release == "" {
		return fileName, nil
	}
	if err := validatePathComponent(release, "release"); err != nil {
		return "", err
	}
	return path.Join(release, fileName), nil
}

func IsSourceFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, candidate := range sourceExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ExportPrefix is the key prefix under which every export of one session
// is published.
func ExportPrefix(principal, sessionID string) (string, error) {
	if err := validatePathComponent(principal, "principal"); err != nil {
		return "", err
	}
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join("exports", principal, sessionID) + "/", nil
}

func BuildExportPath(principal, sessionID string, at time.Time, extension string) (string, error) {
	prefix, err := ExportPrefix(principal, sessionID)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("query_results-%s.%s", ts.Format("20060102T150405.000"), extension),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

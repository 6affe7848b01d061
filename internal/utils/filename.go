// Package utils provides utility functions for the backup service.
package utils

import (
	"regexp"
	"strings"
	"time"
)

// DefaultTimestampLayout is used for a bare {timestamp} placeholder.
// Dashes instead of colons keep the name safe on every filesystem.
const DefaultTimestampLayout = "2006-01-02-15-04-05"

var timestampPlaceholder = regexp.MustCompile(`\{timestamp(?::([^}]*))?\}`)

// FormatFileName renders a backup file name template for the given run start.
//
// The template may contain {timestamp}, formatted with DefaultTimestampLayout,
// or {timestamp:<layout>} with any Go time layout. The timestamp is always
// converted to UTC. A template without placeholder gets "-<timestamp>" appended
// so two runs never produce the same name.
func FormatFileName(template string, timestamp time.Time) string {
	t := timestamp.UTC()

	if !timestampPlaceholder.MatchString(template) {
		return strings.TrimSuffix(template, "-") + "-" + t.Format(DefaultTimestampLayout)
	}

	return timestampPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		layout := DefaultTimestampLayout
		if sub := timestampPlaceholder.FindStringSubmatch(match); len(sub) > 1 && sub[1] != "" {
			layout = sub[1]
		}
		return t.Format(layout)
	})
}

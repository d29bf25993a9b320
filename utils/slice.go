package utils

import "strings"

// Unique removes duplicate values from a slice, keeping the first occurrence of each.
func Unique[T comparable](slice []T) []T {
	keys := make(map[T]struct{}, len(slice))
	list := make([]T, 0, len(slice))
	for _, entry := range slice {
		if _, seen := keys[entry]; !seen {
			keys[entry] = struct{}{}
			list = append(list, entry)
		}
	}
	return list
}

// SplitList splits a comma separated value and drops blank items.
func SplitList(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

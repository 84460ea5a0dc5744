// Package maputils provides small generic map helpers.
package maputils

import "sort"

// Keys returns the keys of the map in unspecified order.
func Keys[K comparable, V any](m map[K]V) []K {
	result := make([]K, 0, len(m))

	for k := range m {
		result = append(result, k)
	}

	return result
}

// SortedKeys returns the keys of the map in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	result := Keys(m)
	sort.Strings(result)

	return result
}

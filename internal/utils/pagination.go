// Package utils provides small parse and paging helpers shared by the HTTP
// handlers. Nothing here knows about rooms or scores.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
//	n := utils.AtoiDefault("42", 0) // 42
//	n = utils.AtoiDefault("x", 5)   // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// PageWindow returns the slice bounds of a 1-based page over total items
// and the number of pages. Pages past the end yield an empty window at
// total. size must be >= 1.
func PageWindow(total, page, size int) (start, end, pages int) {
	pages = (total + size - 1) / size
	start = Clamp((page-1)*size, 0, total)
	end = Clamp(start+size, 0, total)
	return start, end, pages
}

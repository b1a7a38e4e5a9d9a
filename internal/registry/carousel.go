package registry

import "strings"

// ClampCursor keeps an image cursor inside [0, n-1], or 0 when there are no
// images.
func ClampCursor(cursor, n int) int {
	if n <= 0 || cursor < 0 {
		return 0
	}
	if cursor >= n {
		return n - 1
	}
	return cursor
}

// NextImage moves the carousel forward, wrapping to the first image.
func NextImage(cursor, n int) int {
	if n <= 0 {
		return 0
	}
	if cursor >= n-1 {
		return 0
	}
	return ClampCursor(cursor+1, n)
}

// PrevImage moves the carousel back, wrapping to the last image.
func PrevImage(cursor, n int) int {
	if n <= 0 {
		return 0
	}
	if cursor <= 0 {
		return n - 1
	}
	return ClampCursor(cursor-1, n)
}

// PhoneNumbers splits a free-text phone field into callable entries.
func PhoneNumbers(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', '\n', '/', ';':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

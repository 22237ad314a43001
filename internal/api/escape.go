// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package api

import "strings"

const upperhex = "0123456789ABCDEF"

// QuotePathSegment percent-encodes s for use as a single URL path segment.
// Only RFC 3986 unreserved characters pass through, so "group/sub/project"
// becomes "group%2Fsub%2Fproject". Unlike url.PathEscape, sub-delimiters
// such as ':' '@' and '+' are escaped too.
func QuotePathSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

package format

import "strings"

// dateFormatIDs are the builtin ids Excel renders as dates or times.
var dateFormatIDs = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	45: true, 46: true, 47: true,
}

// IsStandardDateFormatID reports whether id is a builtin date format.
func IsStandardDateFormatID(id int) bool {
	return dateFormatIDs[id]
}

// IsDateFormat reports whether a number format renders dates: either a
// builtin date id, or a code containing a day or year token once literals,
// escapes and bracketed tags are removed.
func IsDateFormat(id int, code string) bool {
	if IsStandardDateFormatID(id) {
		return true
	}
	if code == "" {
		return false
	}

	stripped := stripLiterals(firstSection(code))
	return strings.ContainsAny(stripped, "dDyY")
}

// firstSection returns the positive-number section of a format code.
func firstSection(code string) string {
	inQuote := false
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '"':
			inQuote = !inQuote
		case '\\':
			i++
		case ';':
			if !inQuote {
				return code[:i]
			}
		}
	}
	return code
}

// stripLiterals drops whitespace, quoted text, escapes, padding and fill
// characters and bracketed tags from a format code.
func stripLiterals(code string) string {
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch c {
		case '"':
			end := strings.IndexByte(code[i+1:], '"')
			if end < 0 {
				return b.String()
			}
			i += end + 1
		case '[':
			end := strings.IndexByte(code[i+1:], ']')
			if end < 0 {
				return b.String()
			}
			i += end + 1
		case '\\', '_', '*':
			i++
		case ' ', '\t', ',':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

package excel

import (
	"fmt"
	"strconv"
)

// MaxColumns is the column limit of an OOXML worksheet (XFD).
const MaxColumns = 16384

// ColumnIndex converts column letters ("A", "AB") to a 1-based index.
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column name")
	}
	idx := 0
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			return 0, fmt.Errorf("invalid column name %q", letters)
		}
		if idx > MaxColumns {
			return 0, fmt.Errorf("column %q exceeds %d", letters, MaxColumns)
		}
	}
	return idx, nil
}

// ColumnName converts a 1-based column index to its letters.
func ColumnName(idx int) string {
	if idx <= 0 {
		return ""
	}
	var buf [4]byte
	i := len(buf)
	for idx > 0 {
		idx--
		i--
		buf[i] = byte('A' + idx%26)
		idx /= 26
	}
	return string(buf[i:])
}

// ParseCellRef splits a reference such as "AB12" into column and row indexes.
// Absolute markers ("$A$1") are accepted.
func ParseCellRef(ref string) (col, row int, err error) {
	letters := make([]byte, 0, 3)
	i := 0
	for i < len(ref) {
		c := ref[i]
		if c == '$' {
			i++
			continue
		}
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			letters = append(letters, c)
			i++
			continue
		}
		break
	}
	if i < len(ref) && ref[i] == '$' {
		i++
	}
	if len(letters) == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	col, err = ColumnIndex(string(letters))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cell reference %q: %w", ref, err)
	}
	row, err = strconv.Atoi(ref[i:])
	if err != nil || row <= 0 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	return col, row, nil
}

// CellRef builds a reference from 1-based column and row indexes.
func CellRef(col, row int) string {
	return ColumnName(col) + strconv.Itoa(row)
}

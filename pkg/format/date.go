package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxexplode/fastexcel/pkg/excel"
)

// predefinedDateCodes override builtin codes whose locale rendering differs
// from the code stored in the file. Add entries here when a builtin id
// should render differently.
var predefinedDateCodes = map[int]string{
	14: "mm/dd/yyyy",
}

// DateFormatter renders Excel serial dates with their number format code.
type DateFormatter struct {
	date1904 bool
	compiled sync.Map // code -> *dateLayout
}

// NewDateFormatter creates a date formatter for the 1900 or 1904 date system.
func NewDateFormatter(date1904 bool) *DateFormatter {
	return &DateFormatter{date1904: date1904}
}

// FormatsDates marks the formatter as date producing.
func (f *DateFormatter) FormatsDates() bool { return true }

// Supports reports whether the format is a date format.
func (f *DateFormatter) Supports(numFmtID int, code string) bool {
	_, predefined := predefinedDateCodes[numFmtID]
	return predefined || IsDateFormat(numFmtID, code)
}

// SupportedFormats returns the predefined date format ids.
func (f *DateFormatter) SupportedFormats() []int {
	ids := make([]int, 0, len(predefinedDateCodes))
	for id := range predefinedDateCodes {
		ids = append(ids, id)
	}
	return ids
}

// Format renders a serial date.
func (f *DateFormatter) Format(numFmtID int, code string, value string) (string, error) {
	serial, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", excel.NewMappingError(fmt.Sprintf("date value %q is not a serial number", value), err).
			WithCode(excel.ErrCodeConversionFailed)
	}

	if p, ok := predefinedDateCodes[numFmtID]; ok && (code == "" || code == BuiltinCode(numFmtID)) {
		code = p
	}
	if code == "" {
		return "", excel.NewFormatError(fmt.Sprintf("unknown date format id %d", numFmtID), nil).
			WithCode(excel.ErrCodeUnknownFormat)
	}

	t, err := excel.SerialToTime(serial, f.date1904)
	if err != nil {
		return "", excel.NewMappingError("invalid serial date", err).WithCode(excel.ErrCodeConversionFailed)
	}

	return f.layout(code).render(t, serial), nil
}

func (f *DateFormatter) layout(code string) *dateLayout {
	if l, ok := f.compiled.Load(code); ok {
		return l.(*dateLayout)
	}
	l := compileDateLayout(code)
	f.compiled.Store(code, l)
	return l
}

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokYear2
	tokYear4
	tokMonth
	tokMonth2
	tokMonthAbbr
	tokMonthName
	tokMonthLetter
	tokDay
	tokDay2
	tokWeekdayAbbr
	tokWeekdayName
	tokHour
	tokHour2
	tokMinute
	tokMinute2
	tokSecond
	tokSecond2
	tokAmPm
	tokFraction
	tokElapsedHours
	tokElapsedMinutes
	tokElapsedSeconds
)

type token struct {
	kind  tokenKind
	text  string
	width int
}

// dateLayout is a compiled date format code.
type dateLayout struct {
	tokens      []token
	twelveHour  bool
	hasFraction bool
}

// compileDateLayout tokenizes the first section of an Excel date code.
func compileDateLayout(code string) *dateLayout {
	section := firstSection(code)
	l := &dateLayout{}

	lit := func(s string) {
		l.tokens = append(l.tokens, token{kind: tokLiteral, text: s})
	}
	run := func(i int, lower byte) int {
		n := 0
		for i+n < len(section) && (section[i+n]|0x20) == lower {
			n++
		}
		return n
	}

	for i := 0; i < len(section); {
		c := section[i]
		switch {
		case c == '"':
			end := strings.IndexByte(section[i+1:], '"')
			if end < 0 {
				lit(section[i+1:])
				i = len(section)
				continue
			}
			lit(section[i+1 : i+1+end])
			i += end + 2
		case c == '\\':
			if i+1 < len(section) {
				lit(section[i+1 : i+2])
			}
			i += 2
		case c == '_':
			lit(" ")
			i += 2
		case c == '*':
			i += 2
		case c == '[':
			end := strings.IndexByte(section[i+1:], ']')
			if end < 0 {
				i = len(section)
				continue
			}
			inner := strings.ToLower(section[i+1 : i+1+end])
			if k, ok := elapsedKind(inner); ok {
				l.tokens = append(l.tokens, token{kind: k, width: len(inner)})
			}
			i += end + 2
		case strings.HasPrefix(strings.ToUpper(section[i:]), "AM/PM"):
			l.tokens = append(l.tokens, token{kind: tokAmPm, text: section[i : i+5], width: 2})
			l.twelveHour = true
			i += 5
		case strings.HasPrefix(strings.ToUpper(section[i:]), "A/P"):
			l.tokens = append(l.tokens, token{kind: tokAmPm, text: section[i : i+3], width: 1})
			l.twelveHour = true
			i += 3
		case c|0x20 == 'y':
			n := run(i, 'y')
			k := tokYear4
			if n <= 2 {
				k = tokYear2
			}
			l.tokens = append(l.tokens, token{kind: k})
			i += n
		case c|0x20 == 'm':
			n := run(i, 'm')
			kinds := []tokenKind{tokMonth, tokMonth2, tokMonthAbbr, tokMonthName, tokMonthLetter}
			l.tokens = append(l.tokens, token{kind: kinds[min(n, 5)-1]})
			i += n
		case c|0x20 == 'd':
			n := run(i, 'd')
			kinds := []tokenKind{tokDay, tokDay2, tokWeekdayAbbr, tokWeekdayName}
			l.tokens = append(l.tokens, token{kind: kinds[min(n, 4)-1]})
			i += n
		case c|0x20 == 'h':
			n := run(i, 'h')
			k := tokHour
			if n >= 2 {
				k = tokHour2
			}
			l.tokens = append(l.tokens, token{kind: k})
			i += n
		case c|0x20 == 's':
			n := run(i, 's')
			k := tokSecond
			if n >= 2 {
				k = tokSecond2
			}
			l.tokens = append(l.tokens, token{kind: k})
			i += n
		case c == '.' && l.afterSeconds():
			n := 0
			for i+1+n < len(section) && section[i+1+n] == '0' {
				n++
			}
			if n == 0 {
				lit(".")
				i++
				continue
			}
			l.tokens = append(l.tokens, token{kind: tokFraction, width: min(n, 3)})
			l.hasFraction = true
			i += n + 1
		default:
			lit(section[i : i+1])
			i++
		}
	}

	l.resolveMinutes()
	return l
}

func elapsedKind(inner string) (tokenKind, bool) {
	if inner == "" {
		return 0, false
	}
	first := inner[0]
	if strings.Count(inner, string(first)) != len(inner) {
		return 0, false
	}
	switch first {
	case 'h':
		return tokElapsedHours, true
	case 'm':
		return tokElapsedMinutes, true
	case 's':
		return tokElapsedSeconds, true
	}
	return 0, false
}

func (l *dateLayout) afterSeconds() bool {
	for i := len(l.tokens) - 1; i >= 0; i-- {
		switch l.tokens[i].kind {
		case tokLiteral:
			continue
		case tokSecond, tokSecond2, tokElapsedSeconds:
			return true
		default:
			return false
		}
	}
	return false
}

// resolveMinutes turns m and mm into minutes when they follow an hour or
// precede a second.
func (l *dateLayout) resolveMinutes() {
	for i, tok := range l.tokens {
		if tok.kind != tokMonth && tok.kind != tokMonth2 {
			continue
		}
		minute := false
		for j := i - 1; j >= 0; j-- {
			k := l.tokens[j].kind
			if k == tokLiteral {
				continue
			}
			minute = k == tokHour || k == tokHour2 || k == tokElapsedHours
			break
		}
		if !minute {
			for j := i + 1; j < len(l.tokens); j++ {
				k := l.tokens[j].kind
				if k == tokLiteral {
					continue
				}
				minute = k == tokSecond || k == tokSecond2 || k == tokElapsedSeconds
				break
			}
		}
		if minute {
			if tok.kind == tokMonth {
				l.tokens[i].kind = tokMinute
			} else {
				l.tokens[i].kind = tokMinute2
			}
		}
	}
}

func (l *dateLayout) render(t time.Time, serial float64) string {
	totalSeconds := serial * 86400
	if !l.hasFraction {
		t = t.Round(time.Second)
		totalSeconds = math.Round(totalSeconds)
	}

	var b strings.Builder
	for _, tok := range l.tokens {
		switch tok.kind {
		case tokLiteral:
			b.WriteString(tok.text)
		case tokYear2:
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case tokYear4:
			fmt.Fprintf(&b, "%04d", t.Year())
		case tokMonth:
			b.WriteString(strconv.Itoa(int(t.Month())))
		case tokMonth2:
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case tokMonthAbbr:
			b.WriteString(t.Month().String()[:3])
		case tokMonthName:
			b.WriteString(t.Month().String())
		case tokMonthLetter:
			b.WriteString(t.Month().String()[:1])
		case tokDay:
			b.WriteString(strconv.Itoa(t.Day()))
		case tokDay2:
			fmt.Fprintf(&b, "%02d", t.Day())
		case tokWeekdayAbbr:
			b.WriteString(t.Weekday().String()[:3])
		case tokWeekdayName:
			b.WriteString(t.Weekday().String())
		case tokHour, tokHour2:
			h := t.Hour()
			if l.twelveHour {
				h %= 12
				if h == 0 {
					h = 12
				}
			}
			if tok.kind == tokHour2 {
				fmt.Fprintf(&b, "%02d", h)
			} else {
				b.WriteString(strconv.Itoa(h))
			}
		case tokMinute:
			b.WriteString(strconv.Itoa(t.Minute()))
		case tokMinute2:
			fmt.Fprintf(&b, "%02d", t.Minute())
		case tokSecond:
			b.WriteString(strconv.Itoa(t.Second()))
		case tokSecond2:
			fmt.Fprintf(&b, "%02d", t.Second())
		case tokAmPm:
			b.WriteString(ampm(tok, t.Hour()))
		case tokFraction:
			div := int(math.Pow10(9 - tok.width))
			fmt.Fprintf(&b, ".%0*d", tok.width, t.Nanosecond()/div)
		case tokElapsedHours:
			fmt.Fprintf(&b, "%0*d", tok.width, int64(totalSeconds)/3600)
		case tokElapsedMinutes:
			fmt.Fprintf(&b, "%0*d", tok.width, int64(totalSeconds)/60)
		case tokElapsedSeconds:
			fmt.Fprintf(&b, "%0*d", tok.width, int64(totalSeconds))
		}
	}
	return b.String()
}

func ampm(tok token, hour int) string {
	am, pm := "AM", "PM"
	if tok.width == 1 {
		am, pm = "A", "P"
	}
	if tok.text != "" && tok.text[0] >= 'a' && tok.text[0] <= 'z' {
		am, pm = strings.ToLower(am), strings.ToLower(pm)
	}
	if hour < 12 {
		return am
	}
	return pm
}

package reader

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxexplode/fastexcel/pkg/excel"
)

// TagName is the struct tag read by TupleReader.
//
//	type Order struct {
//	    ID       int       `excel:"Order ID"`
//	    Placed   time.Time `excel:"Order Date"`
//	    Customer string    `excel:""`       // header "Customer"
//	    Note     *string   `excel:"Note"`   // nil when the cell is empty
//	    Line     int       `excel:",row"`   // physical row number
//	    Internal string                     // ignored
//	}
const TagName = "excel"

var (
	timeType            = reflect.TypeOf(time.Time{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// field is one mapped struct field.
type field struct {
	name   string
	header string
	index  []int
	row    bool
	typ    reflect.Type
}

// recordPlan describes how a struct type is populated.
type recordPlan struct {
	typ    reflect.Type
	fields []field
}

var plans sync.Map // reflect.Type -> *recordPlan

// planFor builds, or returns the cached, plan for struct type t.
func planFor(t reflect.Type) (*recordPlan, error) {
	if p, ok := plans.Load(t); ok {
		return p.(*recordPlan), nil
	}

	if t.Kind() != reflect.Struct {
		return nil, excel.NewConfigError(fmt.Sprintf("record type %s is not a struct", t), nil).
			WithCode(excel.ErrCodeUnsupportedType)
	}

	p := &recordPlan{typ: t}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" || !sf.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		f := field{
			name:   sf.Name,
			header: strings.TrimSpace(name),
			index:  sf.Index,
			typ:    sf.Type,
		}
		for _, o := range strings.Split(opts, ",") {
			if strings.TrimSpace(o) == "row" {
				f.row = true
			}
		}
		if f.header == "" {
			f.header = sf.Name
		}

		if f.row {
			if !isInt(sf.Type) {
				return nil, excel.NewConfigError(
					fmt.Sprintf("row field %s must be an integer, got %s", sf.Name, sf.Type), nil).
					WithCode(excel.ErrCodeUnsupportedType).
					WithField(sf.Name)
			}
		} else if !supported(sf.Type) {
			return nil, excel.NewConfigError(fmt.Sprintf("field %s has unsupported type %s", sf.Name, sf.Type), nil).
				WithCode(excel.ErrCodeUnsupportedType).
				WithField(sf.Name)
		}
		p.fields = append(p.fields, f)
	}

	actual, _ := plans.LoadOrStore(t, p)
	return actual.(*recordPlan), nil
}

func isInt(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func supported(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool, reflect.Float32, reflect.Float64:
		return true
	case reflect.Pointer:
		return t.Elem().Kind() != reflect.Pointer && supported(t.Elem())
	}
	return isInt(t)
}

// binding ties a sheet column to a field.
type binding struct {
	column int
	field  *field
}

// bind matches plan fields to header columns. Exact header text wins over a
// case-insensitive match; a header used twice binds its first column.
func (p *recordPlan) bind(headers map[int]string, cols []int) (bindings []binding, rowFields []*field, missing []string) {
	for i := range p.fields {
		f := &p.fields[i]
		if f.row {
			rowFields = append(rowFields, f)
			continue
		}

		col := 0
		for _, c := range cols {
			if headers[c] == f.header {
				col = c
				break
			}
		}
		if col == 0 {
			for _, c := range cols {
				if strings.EqualFold(headers[c], f.header) {
					col = c
					break
				}
			}
		}
		if col == 0 {
			missing = append(missing, f.header)
			continue
		}
		bindings = append(bindings, binding{column: col, field: f})
	}
	return bindings, rowFields, missing
}

// setField converts a cell into the field value.
func setField(v reflect.Value, cell excel.Cell, date1904 bool) error {
	if v.Kind() == reflect.Pointer {
		if strings.TrimSpace(cell.Value) == "" {
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		elem := reflect.New(v.Type().Elem())
		if err := setField(elem.Elem(), cell, date1904); err != nil {
			return err
		}
		v.Set(elem)
		return nil
	}

	if v.Type() == timeType {
		if strings.TrimSpace(cell.Value) == "" {
			return nil
		}
		t, err := cellTime(cell, date1904)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(t))
		return nil
	}

	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(cell.Value))
		}
	}

	text := strings.TrimSpace(cell.Value)
	if cell.Type == excel.CellTypeNumber && cell.Raw != "" {
		// Numeric targets read the stored number, not its formatted rendering.
		text = strings.TrimSpace(cell.Raw)
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(cell.Value)
	case reflect.Bool:
		if text == "" {
			return nil
		}
		b, err := parseBool(cell.Value)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if text == "" {
			return nil
		}
		n, err := parseInt(text)
		if err != nil {
			return err
		}
		if v.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, v.Type())
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if text == "" {
			return nil
		}
		n, err := parseInt(text)
		if err != nil {
			return err
		}
		if n < 0 || v.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, v.Type())
		}
		v.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		if text == "" {
			return nil
		}
		f, err := strconv.ParseFloat(text, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported type %s", v.Type())
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// parseInt accepts integers and integral floats such as "3.0" or "1E3".
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %q is not an integer", s)
	}
	return int64(f), nil
}

var textTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// cellTime reads a time from a serial number, an ISO date cell or text.
func cellTime(cell excel.Cell, date1904 bool) (time.Time, error) {
	if cell.Type == excel.CellTypeNumber {
		return excel.ParseSerial(cell.Raw, date1904)
	}

	s := strings.TrimSpace(cell.Value)
	if cell.Type == excel.CellTypeDate {
		s = strings.TrimSpace(cell.Raw)
	}
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}

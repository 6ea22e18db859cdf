package script

import (
	"fmt"
	"sort"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/maxexplode/fastexcel/pkg/reader"
)

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			v, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// cellText renders a scalar Starlark value the way a cell displays it.
func cellText(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return "", nil
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case starlark.Int:
		return val.String(), nil
	case starlark.Float:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

// columnOrder lists the record's columns, falling back to its keys when
// Columns is unset.
func columnOrder(rec reader.Record) []string {
	if len(rec.Columns) > 0 {
		return rec.Columns
	}
	cols := make([]string, 0, len(rec.Values))
	for k := range rec.Values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// toRecord builds the transformed record from dict.
func toRecord(rec reader.Record, dict *starlark.Dict) (reader.Record, error) {
	out := reader.Record{
		Row:    rec.Row,
		Values: make(map[string]string, dict.Len()),
	}
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return rec, fmt.Errorf("transform row %d: column name must be a string, got %s", rec.Row, item[0].Type())
		}
		text, err := cellText(item[1])
		if err != nil {
			return rec, fmt.Errorf("transform row %d: column %s: %w", rec.Row, string(key), err)
		}
		out.Values[string(key)] = text
	}

	for _, name := range columnOrder(rec) {
		if _, ok := out.Values[name]; ok {
			out.Columns = append(out.Columns, name)
		}
	}
	known := make(map[string]bool, len(out.Columns))
	for _, name := range out.Columns {
		known[name] = true
	}
	for _, item := range dict.Items() {
		name := string(item[0].(starlark.String))
		if !known[name] {
			out.Columns = append(out.Columns, name)
		}
	}
	return out, nil
}

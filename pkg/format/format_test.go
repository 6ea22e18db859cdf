package format

import (
	"testing"

	"github.com/maxexplode/fastexcel/pkg/excel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDateFormat(t *testing.T) {
	tests := []struct {
		name string
		id   int
		code string
		want bool
	}{
		{name: "builtin date id", id: 14, want: true},
		{name: "builtin elapsed time", id: 46, want: true},
		{name: "general", id: 0, code: "General", want: false},
		{name: "number", id: 2, code: "0.00", want: false},
		{name: "iso date", id: 164, code: "yyyy-mm-dd", want: true},
		{name: "upper case day", id: 165, code: "DD/MM/YYYY", want: true},
		{name: "locale tagged", id: 166, code: "[$-409]mmmm d, yyyy;@", want: true},
		{name: "quoted literal only", id: 167, code: `0 "days"`, want: false},
		{name: "escaped d", id: 168, code: `0\d`, want: false},
		{name: "accounting", id: 169, code: `_(* #,##0_);_(* (#,##0);_(* "-"??_);_(@_)`, want: false},
		{name: "text", id: 49, code: "@", want: false},
		{name: "date in second section only", id: 170, code: `0.00;"yy"`, want: false},
		{name: "no code", id: 200, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDateFormat(tt.id, tt.code))
		})
	}
}

func TestDateFormatter_Format(t *testing.T) {
	f := NewDateFormatter(false)

	tests := []struct {
		name  string
		id    int
		code  string
		value string
		want  string
	}{
		{name: "predefined 14", id: 14, value: "44576", want: "01/15/2022"},
		{name: "predefined 14 with builtin code", id: 14, code: "mm-dd-yy", value: "44576", want: "01/15/2022"},
		{name: "iso", id: 164, code: "yyyy-mm-dd", value: "44576", want: "2022-01-15"},
		{name: "day first with minutes", id: 165, code: "dd/mm/yyyy hh:mm", value: "44576.75", want: "15/01/2022 18:00"},
		{name: "builtin 15", id: 15, code: "d-mmm-yy", value: "44576", want: "15-Jan-22"},
		{name: "twelve hour", id: 18, code: "h:mm AM/PM", value: "0.75", want: "6:00 PM"},
		{name: "twelve hour lower", id: 166, code: "h:mm am/pm", value: "0.25", want: "6:00 am"},
		{name: "elapsed hours", id: 46, code: "[h]:mm:ss", value: "1.5", want: "36:00:00"},
		{name: "minutes and seconds", id: 45, code: "mm:ss", value: "0.000694444444444444", want: "01:00"},
		{name: "long names", id: 167, code: "[$-409]dddd, mmmm dd, yyyy;@", value: "44576", want: "Saturday, January 15, 2022"},
		{name: "quoted literal", id: 168, code: `yyyy "year"`, value: "44576", want: "2022 year"},
		{name: "escaped literal", id: 169, code: `d\-m\-yy`, value: "44576", want: "15-1-22"},
		{name: "fraction of second", id: 170, code: "hh:mm:ss.000", value: "0.5000115740740741", want: "12:00:01.000"},
		{name: "month letter", id: 171, code: "mmmmm", value: "44576", want: "J"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Format(tt.id, tt.code, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateFormatter_Errors(t *testing.T) {
	f := NewDateFormatter(false)

	_, err := f.Format(14, "", "not-a-date")
	require.Error(t, err)
	assert.True(t, excel.IsMapping(err))

	_, err = f.Format(300, "", "44576")
	require.Error(t, err)
	assert.Equal(t, excel.ErrCodeUnknownFormat, excel.CodeOf(err))
}

func TestDateFormatter_1904(t *testing.T) {
	f := NewDateFormatter(true)
	got, err := f.Format(164, "yyyy-mm-dd", "0")
	require.NoError(t, err)
	assert.Equal(t, "1904-01-01", got)
}

func TestRegistry_Resolve(t *testing.T) {
	r := DefaultRegistry(false)

	t.Run("predefined id", func(t *testing.T) {
		b := r.Resolve(14, "")
		assert.True(t, b.Date)
		assert.Equal(t, "mm-dd-yy", b.Code)
		got, err := b.Format("44576")
		require.NoError(t, err)
		assert.Equal(t, "01/15/2022", got)
	})

	t.Run("custom date code", func(t *testing.T) {
		b := r.Resolve(170, "yyyy/mm/dd")
		assert.True(t, b.Date)
		got, err := b.Format("44576")
		require.NoError(t, err)
		assert.Equal(t, "2022/01/15", got)
	})

	t.Run("bindings do not share state", func(t *testing.T) {
		a := r.Resolve(171, "yyyy")
		b := r.Resolve(172, "dd")
		ga, err := a.Format("44576")
		require.NoError(t, err)
		gb, err := b.Format("44576")
		require.NoError(t, err)
		assert.Equal(t, "2022", ga)
		assert.Equal(t, "15", gb)
	})

	t.Run("number format passes through", func(t *testing.T) {
		b := r.Resolve(2, "")
		assert.False(t, b.Date)
		got, err := b.Format("3.14159")
		require.NoError(t, err)
		assert.Equal(t, "3.14159", got)
	})

	t.Run("unknown id", func(t *testing.T) {
		b := r.Resolve(999, "")
		assert.False(t, b.Date)
		got, err := b.Format("7")
		require.NoError(t, err)
		assert.Equal(t, "7", got)
	})
}

func TestAny(t *testing.T) {
	got, err := Any().Format(14, "", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
	assert.False(t, Any().Supports(14, "yyyy"))
	assert.Empty(t, Any().SupportedFormats())
}

// upperFormatter records the id and code it is called with.
type upperFormatter struct {
	gotID   int
	gotCode string
}

func (f *upperFormatter) Format(numFmtID int, code string, value string) (string, error) {
	f.gotID, f.gotCode = numFmtID, code
	return code + ":" + value, nil
}

func (f *upperFormatter) Supports(_ int, code string) bool { return code == "[Upper]@" }
func (f *upperFormatter) SupportedFormats() []int          { return []int{49} }

func TestRegistry_CustomFormatterReceivesCode(t *testing.T) {
	tests := []struct {
		name     string
		id       int
		code     string
		wantCode string
	}{
		{name: "custom code", id: 180, code: "[Upper]@", wantCode: "[Upper]@"},
		{name: "builtin id without code", id: 49, code: "", wantCode: "@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &upperFormatter{}
			r := NewRegistry(f)

			got, err := r.Resolve(tt.id, tt.code).Format("abc")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode+":abc", got)
			assert.Equal(t, tt.id, f.gotID)
			assert.Equal(t, tt.wantCode, f.gotCode)
		})
	}
}

package workbook

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// readSharedStrings builds the shared string table. Each <si> is one entry;
// rich text runs are concatenated and phonetic runs (<rPh>) are skipped.
func (wb *Workbook) readSharedStrings() ([]string, error) {
	rc, ok, err := wb.openPart(partSharedStrings)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		table    []string
		buf      strings.Builder
		inItem   bool
		inText   bool
		phonetic int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return table, nil
		}
		if err != nil {
			return nil, partError(partSharedStrings, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sst":
				if n, ok := attrInt(t, "uniqueCount"); ok && n > 0 && table == nil {
					table = make([]string, 0, n)
				}
			case "si":
				inItem = true
				buf.Reset()
			case "rPh":
				phonetic++
			case "t":
				inText = inItem && phonetic == 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				table = append(table, decodeEscapes(buf.String()))
				inItem = false
			case "rPh":
				phonetic--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
}

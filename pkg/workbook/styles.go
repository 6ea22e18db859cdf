package workbook

import (
	"encoding/xml"
	"errors"
	"io"
)

// styleTable holds the parts of styles.xml needed to format cells.
type styleTable struct {
	// numFmts maps custom format ids to their codes.
	numFmts map[int]string

	// cellXfs is the numFmtId of each cell style, indexed by the s attribute.
	cellXfs []int
}

// readStyles parses numFmts and cellXfs. A package without styles yields an
// empty table.
func (wb *Workbook) readStyles() (*styleTable, error) {
	st := &styleTable{numFmts: make(map[int]string)}

	rc, ok, err := wb.openPart(partStyles)
	if err != nil {
		return nil, err
	}
	if !ok {
		return st, nil
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	inCellXfs := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return nil, partError(partStyles, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "numFmt":
				if id, ok := attrInt(t, "numFmtId"); ok {
					st.numFmts[id] = attr(t, "formatCode")
				}
			case "cellXfs":
				inCellXfs = true
			case "xf":
				if inCellXfs {
					id, _ := attrInt(t, "numFmtId")
					st.cellXfs = append(st.cellXfs, id)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "cellXfs" {
				inCellXfs = false
			}
		}
	}
}

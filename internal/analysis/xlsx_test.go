package analysis

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	workbookXML = `<?xml version="1.0" encoding="UTF-8"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<sheets><sheet name="Notes" sheetId="1" r:id="rId1"/><sheet name="Orders" sheetId="2" r:id="rId2"/></sheets>
</workbook>`
	workbookRels = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="worksheet" Target="worksheets/sheet1.xml"/>
<Relationship Id="rId2" Type="worksheet" Target="/xl/worksheets/sheet2.xml"/>
</Relationships>`
	sharedStringsXML = `<?xml version="1.0" encoding="UTF-8"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
<si><t>order_id</t></si><si><t>customer_id</t></si><si><t>order_date</t></si><si><t>payment_method</t></si><si><t>order_amount</t></si><si><t>PayPal</t></si>
</sst>`
	notesSheet = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
<row r="1"><c r="A1" t="inlineStr"><is><t>readme</t></is></c></row>
</sheetData></worksheet>`
	ordersSheet = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c><c r="C1" t="s"><v>2</v></c><c r="D1" t="s"><v>3</v></c><c r="E1" t="s"><v>4</v></c></row>
<row r="2"><c r="A2"><v>10001</v></c><c r="B2"><v>1001</v></c><c r="C2" t="inlineStr"><is><t>2024/01/05</t></is></c><c r="D2" t="s"><v>5</v></c><c r="E2"><v>10</v></c></row>
<row r="3"><c r="A3"><v>10002</v></c><c r="B3"><v>1002</v></c><c r="C3" t="inlineStr"><is><t>2024-01-06</t></is></c><c r="D3" t="s"><v>5</v></c></row>
<row r="4"><c r="A4"><v>10003</v></c><c r="C4" t="inlineStr"><is><t>2024-01-07</t></is></c><c r="D4" t="s"><v>5</v></c><c r="E4"><v>30</v></c></row>
<row r="5"><c r="A5"><v>10004</v></c><c r="B5"><v>1004</v></c><c r="C5" t="inlineStr"><is><t>2024-01-08</t></is></c><c r="D5" t="s"><v>5</v></c><c r="E5"><v>20</v></c></row>
</sheetData></worksheet>`
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "orders.xlsx")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create xlsx: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"xl/workbook.xml":            workbookXML,
		"xl/_rels/workbook.xml.rels": workbookRels,
		"xl/sharedStrings.xml":       sharedStringsXML,
		"xl/worksheets/sheet1.xml":   notesSheet,
		"xl/worksheets/sheet2.xml":   ordersSheet,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close xlsx: %v", err)
	}
	return p
}

func TestLoadAndCleanXLSXBySheetName(t *testing.T) {
	p := writeWorkbook(t)
	opt := DefaultOptions()
	opt.SheetName = "orders"
	res, err := LoadAndClean(p, opt)
	if err != nil {
		t.Fatalf("LoadAndClean: %v", err)
	}
	if !equalStrings(res.Table.Columns, []string{"order_id", "customer_id", "order_date", "payment_method", "order_amount"}) {
		t.Fatalf("columns = %v", res.Table.Columns)
	}
	if res.Dropped != 1 || res.Table.Len() != 3 {
		t.Fatalf("dropped = %d rows = %d", res.Dropped, res.Table.Len())
	}
	if got := res.Table.Value(0, ColOrderDate); got != "2024-01-05" {
		t.Fatalf("order_date = %q", got)
	}
	// median of the surviving amounts 10 and 20
	if got := res.Table.Value(1, ColOrderAmount); got != "15" {
		t.Fatalf("imputed amount = %q, want 15", got)
	}
}

func TestLoadXLSXByIndexAndUnknownSheet(t *testing.T) {
	p := writeWorkbook(t)
	opt := DefaultOptions()
	opt.SheetIndex = 2
	tbl, err := LoadOrders(p, opt)
	if err != nil {
		t.Fatalf("LoadOrders: %v", err)
	}
	if tbl.Len() != 4 || tbl.Value(0, "order_id") != "10001" {
		t.Fatalf("rows = %d first = %q", tbl.Len(), tbl.Value(0, "order_id"))
	}

	opt = DefaultOptions()
	opt.SheetName = "Missing"
	_, err = LoadOrders(p, opt)
	if err == nil || !strings.Contains(err.Error(), "Notes, Orders") {
		t.Fatalf("err = %v, want available sheets listed", err)
	}
}

func TestNormalizeRelPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/xl/worksheets/sheet1.xml", "xl/worksheets/sheet1.xml"},
		{"xl/worksheets/sheet1.xml", "xl/worksheets/sheet1.xml"},
		{"/worksheets/sheet1.xml", "xl/worksheets/sheet1.xml"},
		{"worksheets/sheet1.xml", "xl/worksheets/sheet1.xml"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeRelPath(tt.input); got != tt.expected {
			t.Errorf("normalizeRelPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestColIndexFromRef(t *testing.T) {
	for ref, want := range map[string]int{"A1": 0, "C12": 2, "Z3": 25, "AA10": 26, "ab2": 27} {
		if got := colIndexFromRef(ref); got != want {
			t.Errorf("colIndexFromRef(%q) = %d, want %d", ref, got, want)
		}
	}
}

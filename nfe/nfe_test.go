package nfe

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "12345678901234567890123456789012345678901234"

const sampleNFe = `<?xml version="1.0" encoding="UTF-8"?>
<NFe xmlns="http://www.portalfiscal.inf.br/nfe">
  <infNFe Id="NFe` + testKey + `" versao="4.00">
    <ide>
      <nNF>12345</nNF>
      <serie>1</serie>
      <dEmi>2024-01-15</dEmi>
      <natOp>VENDA</natOp>
    </ide>
    <emit>
      <CNPJ>11222333000181</CNPJ>
      <xNome>Empresa Emitente LTDA</xNome>
    </emit>
    <dest>
      <CNPJ>99888777000166</CNPJ>
      <xNome>Cliente Destinatario SA</xNome>
    </dest>
    <det nItem="1">
      <prod>
        <cProd>P001</cProd>
        <xProd>Parafuso M8</xProd>
        <CFOP>5102</CFOP>
        <uCom>UN</uCom>
        <qCom>10.0000</qCom>
        <vUnCom>2.5000</vUnCom>
        <vProd>25.00</vProd>
      </prod>
      <imposto>
        <ICMS><ICMS00><vICMS>4.50</vICMS></ICMS00></ICMS>
        <PIS><PISAliq><vPIS>0.41</vPIS></PISAliq></PIS>
        <COFINS><COFINSAliq><vCOFINS>1.90</vCOFINS></COFINSAliq></COFINS>
      </imposto>
    </det>
    <det nItem="2">
      <prod>
        <cProd>P002</cProd>
        <xProd>Porca M8</xProd>
        <CFOP>5102</CFOP>
        <uCom>UN</uCom>
        <qCom>20.0000</qCom>
        <vUnCom>1.2500</vUnCom>
        <vProd>25.00</vProd>
      </prod>
      <imposto>
        <ICMS><ICMS40><orig>0</orig></ICMS40></ICMS>
      </imposto>
    </det>
    <total>
      <ICMSTot>
        <vNF>50.00</vNF>
        <vICMS>4.50</vICMS>
        <vPIS>0.41</vPIS>
        <vCOFINS>1.90</vCOFINS>
      </ICMSTot>
    </total>
  </infNFe>
</NFe>`

func TestParse(t *testing.T) {
	// WHAT: Parse a complete document and verify header and item extraction.
	// WHY: This is the whole contract of the package.
	header, items, err := Parse([]byte(sampleNFe))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if header.AccessKey != testKey {
		t.Errorf("access key: got %q", header.AccessKey)
	}
	if header.Number != "12345" {
		t.Errorf("number: got %q, want 12345", header.Number)
	}
	if header.Series != "1" {
		t.Errorf("series: got %q, want 1", header.Series)
	}
	if header.OperationNature != "VENDA" {
		t.Errorf("operation nature: got %q", header.OperationNature)
	}
	if header.IssuerCNPJ != "11222333000181" || header.IssuerName != "Empresa Emitente LTDA" {
		t.Errorf("issuer: got %q %q", header.IssuerCNPJ, header.IssuerName)
	}
	if header.RecipientCNPJ != "99888777000166" {
		t.Errorf("recipient cnpj: got %q", header.RecipientCNPJ)
	}
	if got := header.IssueDate.Format("2006-01-02"); got != "2024-01-15" {
		t.Errorf("issue date: got %s", got)
	}
	if header.TotalValue.String() != "50" {
		t.Errorf("total value: got %s", header.TotalValue)
	}
	if header.TotalICMS.String() != "4.5" {
		t.Errorf("total icms: got %s", header.TotalICMS)
	}

	if len(items) != 2 {
		t.Fatalf("items: got %d, want 2", len(items))
	}
	first := items[0]
	if first.Sequence != 1 || first.ProductCode != "P001" || first.Description != "Parafuso M8" {
		t.Errorf("item 1: %+v", first)
	}
	if first.Quantity.String() != "10" || first.UnitValue.String() != "2.5" {
		t.Errorf("item 1 amounts: qty=%s unit=%s", first.Quantity, first.UnitValue)
	}
	if first.ICMSValue.String() != "4.5" || first.PISValue.String() != "0.41" || first.COFINSValue.String() != "1.9" {
		t.Errorf("item 1 taxes: icms=%s pis=%s cofins=%s", first.ICMSValue, first.PISValue, first.COFINSValue)
	}

	// Second item has an exempt ICMS variant with no vICMS: taxes are zero.
	second := items[1]
	if second.Sequence != 2 {
		t.Errorf("item 2 sequence: got %d", second.Sequence)
	}
	if !second.ICMSValue.IsZero() || !second.PISValue.IsZero() {
		t.Errorf("item 2 taxes should be zero: icms=%s pis=%s", second.ICMSValue, second.PISValue)
	}
}

func TestParseProcWrapper(t *testing.T) {
	// WHAT: A document wrapped in the nfeProc distribution envelope parses
	// the same as a bare NFe root.
	wrapped := `<?xml version="1.0"?><nfeProc versao="4.00">` +
		strings.TrimPrefix(sampleNFe, `<?xml version="1.0" encoding="UTF-8"?>`) +
		`<protNFe/></nfeProc>`

	header, items, err := Parse([]byte(wrapped))
	if err != nil {
		t.Fatalf("parse wrapped: %v", err)
	}
	if header.AccessKey != testKey {
		t.Errorf("access key: got %q", header.AccessKey)
	}
	if len(items) != 2 {
		t.Errorf("items: got %d, want 2", len(items))
	}
}

func TestParseTimestampIssueDate(t *testing.T) {
	// Layout 4.0 documents carry dhEmi (RFC 3339) instead of dEmi.
	doc := strings.Replace(sampleNFe,
		"<dEmi>2024-01-15</dEmi>",
		"<dhEmi>2024-01-15T10:30:00-03:00</dhEmi>", 1)
	header, _, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := header.IssueDate.Format("2006-01-02"); got != "2024-01-15" {
		t.Errorf("issue date: got %s", got)
	}
}

func TestParseUnknownElementsTolerated(t *testing.T) {
	// Forward compatibility: schema additions must not break parsing.
	doc := strings.Replace(sampleNFe, "<ide>", "<novoCampo>x</novoCampo><ide><futuro>1</futuro>", 1)
	if _, _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("unknown elements should be ignored: %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"truncated xml", "<NFe><infNFe"},
		{"not xml", "this is not xml"},
		{"missing infNFe", "<NFe><outro/></NFe>"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tc.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(string) string
	}{
		{"short access key", func(s string) string {
			return strings.Replace(s, testKey, "12345", 1)
		}},
		{"non-digit access key", func(s string) string {
			return strings.Replace(s, testKey, strings.Replace(testKey, "1", "X", 1), 1)
		}},
		{"non-numeric total", func(s string) string {
			return strings.Replace(s, "<vNF>50.00</vNF>", "<vNF>abc</vNF>", 1)
		}},
		{"non-numeric quantity", func(s string) string {
			return strings.Replace(s, "<qCom>10.0000</qCom>", "<qCom>dez</qCom>", 1)
		}},
		{"non-numeric item sequence", func(s string) string {
			return strings.Replace(s, `nItem="1"`, `nItem="um"`, 1)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tc.mutate(sampleNFe)))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestParseAbsentAmountsAreZero(t *testing.T) {
	// Zero-valued taxes are simply omitted by the standard. The item-level
	// vPIS also appears in the document, so strip the ICMSTot line only.
	doc := strings.Replace(sampleNFe, "        <vPIS>0.41</vPIS>\n", "", 1)
	if doc == sampleNFe {
		t.Fatal("total-block vPIS line not found in sample document")
	}
	header, _, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !header.TotalPIS.IsZero() {
		t.Errorf("absent vPIS should be zero, got %s", header.TotalPIS)
	}
	if header.TotalCOFINS.IsZero() {
		t.Error("sibling vCOFINS should survive the strip")
	}
}

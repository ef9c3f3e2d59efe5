// Package nfe parses Brazilian electronic invoice (NFe) XML documents into
// a header record plus ordered line items.
//
// Parsing is strict about the fields it extracts and tolerant of everything
// else: unknown elements and schema additions are ignored, and both the bare
// <NFe> root and the <nfeProc> distribution wrapper are accepted. Monetary
// and quantity values are decimals, never binary floats.
//
// Usage:
//
//	header, items, err := nfe.Parse(data)
//	if errors.Is(err, nfe.ErrMalformed) { ... }
package nfe

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformed is returned when required structural elements are absent or
// the document is not well-formed XML.
var ErrMalformed = errors.New("nfe: malformed document")

// ErrValidation is returned when a required field has the wrong shape,
// e.g. a non-numeric monetary value or a bad access key.
var ErrValidation = errors.New("nfe: invalid field")

// accessKeyLen is fixed by the NFe standard: 44 decimal digits.
const accessKeyLen = 44

// Parse extracts the header and line items from raw NFe XML. It has no
// side effects. Items are returned in document order.
func Parse(data []byte) (*Header, []Item, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	inf := doc.InfNFe
	if inf == nil && doc.NFe != nil {
		inf = doc.NFe.InfNFe
	}
	if inf == nil {
		return nil, nil, fmt.Errorf("%w: missing infNFe element", ErrMalformed)
	}

	key := strings.TrimPrefix(inf.ID, "NFe")
	if err := validateAccessKey(key); err != nil {
		return nil, nil, err
	}

	header := &Header{
		AccessKey:       key,
		Number:          inf.Ide.NNF,
		Series:          inf.Ide.Serie,
		IssueDate:       parseDate(inf.Ide.DEmi, inf.Ide.DhEmi),
		DispatchDate:    parseDate(inf.Ide.DSaiEnt, inf.Ide.DhSaiEnt),
		OperationNature: inf.Ide.NatOp,
		IssuerCNPJ:      inf.Emit.CNPJ,
		IssuerName:      inf.Emit.XNome,
		RecipientCNPJ:   inf.Dest.CNPJ,
		RecipientName:   inf.Dest.XNome,
	}

	var err error
	tot := inf.Total.ICMSTot
	if header.TotalValue, err = parseAmount(tot.VNF, "vNF"); err != nil {
		return nil, nil, err
	}
	if header.TotalICMS, err = parseAmount(tot.VICMS, "vICMS"); err != nil {
		return nil, nil, err
	}
	if header.TotalPIS, err = parseAmount(tot.VPIS, "vPIS"); err != nil {
		return nil, nil, err
	}
	if header.TotalCOFINS, err = parseAmount(tot.VCOFINS, "vCOFINS"); err != nil {
		return nil, nil, err
	}

	items := make([]Item, 0, len(inf.Det))
	for i, det := range inf.Det {
		item, err := parseItem(det)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items = append(items, item)
	}

	return header, items, nil
}

func parseItem(det xmlDet) (Item, error) {
	item := Item{
		ProductCode: det.Prod.CProd,
		Description: det.Prod.XProd,
		CFOP:        det.Prod.CFOP,
		Unit:        det.Prod.UCom,
	}

	if det.NItem != "" {
		n, err := strconv.Atoi(det.NItem)
		if err != nil {
			return item, fmt.Errorf("%w: nItem %q is not numeric", ErrValidation, det.NItem)
		}
		item.Sequence = n
	}

	var err error
	if item.Quantity, err = parseAmount(det.Prod.QCom, "qCom"); err != nil {
		return item, err
	}
	if item.UnitValue, err = parseAmount(det.Prod.VUnCom, "vUnCom"); err != nil {
		return item, err
	}
	if item.TotalValue, err = parseAmount(det.Prod.VProd, "vProd"); err != nil {
		return item, err
	}
	if item.ICMSValue, err = parseAmount(det.Imposto.ICMS.value("vICMS"), "vICMS"); err != nil {
		return item, err
	}
	if item.PISValue, err = parseAmount(det.Imposto.PIS.value("vPIS"), "vPIS"); err != nil {
		return item, err
	}
	if item.COFINSValue, err = parseAmount(det.Imposto.COFINS.value("vCOFINS"), "vCOFINS"); err != nil {
		return item, err
	}
	return item, nil
}

func validateAccessKey(key string) error {
	if len(key) != accessKeyLen {
		return fmt.Errorf("%w: access key has %d characters, want %d", ErrValidation, len(key), accessKeyLen)
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: access key contains non-digit %q", ErrValidation, r)
		}
	}
	return nil
}

// parseAmount converts an NFe decimal field. Absent fields become zero
// (the standard omits zero-valued taxes); present but unparsable fields
// are a validation error.
func parseAmount(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", ErrValidation, field, s)
	}
	return d, nil
}

// parseDate accepts the legacy date form (dEmi, 2006-01-02) or the current
// timestamp form (dhEmi, RFC 3339). Absent or unparsable dates yield the
// zero time, matching the source system's leniency.
func parseDate(date, timestamp string) time.Time {
	if date != "" {
		if t, err := time.Parse("2006-01-02", date); err == nil {
			return t
		}
	}
	if timestamp != "" {
		if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// --- XML shapes ---

// xmlDocument accepts any root element name. The distribution wrapper
// <nfeProc> nests <NFe>; standalone files use <NFe> directly.
type xmlDocument struct {
	XMLName xml.Name
	InfNFe  *xmlInfNFe `xml:"infNFe"`
	NFe     *xmlNFe    `xml:"NFe"`
}

type xmlNFe struct {
	InfNFe *xmlInfNFe `xml:"infNFe"`
}

type xmlInfNFe struct {
	ID  string `xml:"Id,attr"`
	Ide struct {
		NNF      string `xml:"nNF"`
		Serie    string `xml:"serie"`
		DEmi     string `xml:"dEmi"`
		DhEmi    string `xml:"dhEmi"`
		DSaiEnt  string `xml:"dSaiEnt"`
		DhSaiEnt string `xml:"dhSaiEnt"`
		NatOp    string `xml:"natOp"`
	} `xml:"ide"`
	Emit  xmlParty `xml:"emit"`
	Dest  xmlParty `xml:"dest"`
	Total struct {
		ICMSTot struct {
			VNF     string `xml:"vNF"`
			VICMS   string `xml:"vICMS"`
			VPIS    string `xml:"vPIS"`
			VCOFINS string `xml:"vCOFINS"`
		} `xml:"ICMSTot"`
	} `xml:"total"`
	Det []xmlDet `xml:"det"`
}

type xmlParty struct {
	CNPJ  string `xml:"CNPJ"`
	XNome string `xml:"xNome"`
}

type xmlDet struct {
	NItem string `xml:"nItem,attr"`
	Prod  struct {
		CProd  string `xml:"cProd"`
		XProd  string `xml:"xProd"`
		CFOP   string `xml:"CFOP"`
		UCom   string `xml:"uCom"`
		QCom   string `xml:"qCom"`
		VUnCom string `xml:"vUnCom"`
		VProd  string `xml:"vProd"`
	} `xml:"prod"`
	Imposto struct {
		ICMS   xmlTaxGroup `xml:"ICMS"`
		PIS    xmlTaxGroup `xml:"PIS"`
		COFINS xmlTaxGroup `xml:"COFINS"`
	} `xml:"imposto"`
}

// xmlTaxGroup captures whichever tax regime variant is present
// (ICMS00, ICMS10, PISAliq, COFINSOutr, ...) without enumerating them.
type xmlTaxGroup struct {
	Variants []xmlTaxVariant `xml:",any"`
}

type xmlTaxVariant struct {
	XMLName xml.Name
	VICMS   string `xml:"vICMS"`
	VPIS    string `xml:"vPIS"`
	VCOFINS string `xml:"vCOFINS"`
}

// value returns the named tax value from the first variant carrying it.
func (g xmlTaxGroup) value(field string) string {
	for _, v := range g.Variants {
		var s string
		switch field {
		case "vICMS":
			s = v.VICMS
		case "vPIS":
			s = v.VPIS
		case "vCOFINS":
			s = v.VCOFINS
		}
		if s != "" {
			return s
		}
	}
	return ""
}

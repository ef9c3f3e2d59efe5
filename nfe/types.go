package nfe

import (
	"time"

	"github.com/shopspring/decimal"
)

// Header is the fiscal summary of one NFe document: identification,
// parties, and totals. AccessKey is the document's natural primary key,
// a 44-digit string assigned by the fiscal authority.
type Header struct {
	AccessKey       string
	Number          string
	Series          string
	IssueDate       time.Time
	DispatchDate    time.Time
	OperationNature string
	IssuerCNPJ      string
	IssuerName      string
	RecipientCNPJ   string
	RecipientName   string
	TotalValue      decimal.Decimal
	TotalICMS       decimal.Decimal
	TotalPIS        decimal.Decimal
	TotalCOFINS     decimal.Decimal
}

// Item is one product or service line of an NFe, ordered by Sequence
// (the nItem attribute in the source document).
type Item struct {
	Sequence    int
	ProductCode string
	Description string
	CFOP        string
	Unit        string
	Quantity    decimal.Decimal
	UnitValue   decimal.Decimal
	TotalValue  decimal.Decimal
	ICMSValue   decimal.Decimal
	PISValue    decimal.Decimal
	COFINSValue decimal.Decimal
}

package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxKind tells the two modeled taxes apart.
type TaxKind string

const (
	DividendTax     TaxKind = "dividend"
	CapitalGainsTax TaxKind = "capital_gains"
)

// TaxEvent is an entry of the tax log.
//
// For a dividend, Gross is the dividend before tax. For capital gains, Gross is the
// net realized gain of the year (before exemption) and Net is Gross minus the tax.
type TaxEvent struct {
	Date  Date    `json:"date"`
	Kind  TaxKind `json:"tax_type"`
	Gross Money   `json:"gross_amount"`
	Tax   Money   `json:"tax_amount"`
	Net   Money   `json:"net_amount"`
}

// TaxLedger implements the two-tier tax regime: dividend tax withheld on receipt,
// capital-gains tax computed per calendar year and paid the following year.
//
// A TaxLedger belongs to a single run.
type TaxLedger struct {
	dividendRate decimal.Decimal
	gainsRate    decimal.Decimal
	exemption    Money

	events  []TaxEvent
	gains   map[int]Money // realized gains per calendar year
	settled map[int]Money // capital-gains tax computed per calendar year
}

// NewTaxLedger returns an empty ledger.
func NewTaxLedger(dividendRate, gainsRate float64, exemption Money) *TaxLedger {
	t := &TaxLedger{
		dividendRate: decimal.NewFromFloat(dividendRate),
		gainsRate:    decimal.NewFromFloat(gainsRate),
		exemption:    exemption,
	}
	t.Reset()
	return t
}

// Reset clears all per-run state. Rates and exemption are kept.
func (t *TaxLedger) Reset() {
	t.events = nil
	t.gains = make(map[int]Money)
	t.settled = make(map[int]Money)
}

// ApplyDividendTax withholds the dividend tax on gross and logs it.
func (t *TaxLedger) ApplyDividendTax(gross Money, on Date) TaxEvent {
	tax := gross.MulRate(t.dividendRate)
	e := TaxEvent{Date: on, Kind: DividendTax, Gross: gross, Tax: tax, Net: gross.Sub(tax)}
	t.events = append(t.events, e)
	return e
}

// RecordGain adds a realized gain (negative for a loss) to the year of on.
func (t *TaxLedger) RecordGain(amount Money, on Date) {
	t.gains[on.Year()] = t.gains[on.Year()].Add(amount)
}

// Gain returns the net gain realized so far in year.
func (t *TaxLedger) Gain(year int) Money { return t.gains[year] }

// SettleYear computes the capital-gains tax of year and keeps it for the next year.
// A positive tax is logged on Dec 31 of year. Each year must be settled exactly once.
func (t *TaxLedger) SettleYear(year int) Money {
	gain := t.gains[year]
	taxable := gain.Sub(t.exemption)
	tax := Money{}
	if taxable.IsPositive() {
		tax = taxable.MulRate(t.gainsRate)
	}
	t.settled[year] = tax
	if tax.IsPositive() {
		t.events = append(t.events, TaxEvent{
			Date:  NewDate(year, time.December, 31),
			Kind:  CapitalGainsTax,
			Gross: gain,
			Tax:   tax,
			Net:   gain.Sub(tax),
		})
	}
	return tax
}

// DeferredTaxDue returns the capital-gains tax computed for year-1, due during year.
func (t *TaxLedger) DeferredTaxDue(year int) Money { return t.settled[year-1] }

// Events returns the tax log in insertion order.
func (t *TaxLedger) Events() []TaxEvent { return t.events }

// TotalDividendTax sums the dividend tax withheld so far.
func (t *TaxLedger) TotalDividendTax() Money {
	var total Money
	for _, e := range t.events {
		if e.Kind == DividendTax {
			total = total.Add(e.Tax)
		}
	}
	return total
}

// TotalCapitalGainsTax sums the tax of every settled year.
func (t *TaxLedger) TotalCapitalGainsTax() Money {
	var total Money
	for _, tax := range t.settled {
		total = total.Add(tax)
	}
	return total
}

// TotalTax is the sum of both taxes.
func (t *TaxLedger) TotalTax() Money { return t.TotalDividendTax().Add(t.TotalCapitalGainsTax()) }

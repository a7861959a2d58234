package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/recomma/spotmaker/spot"
)

// TimeLayout formats Buy_Time and Sell_Time.
const TimeLayout = "2006-01-02 15:04:05.000"

// Columns is the fixed column order of the persisted ledger.
var Columns = []string{
	"Strategy", "Symbol",
	"Buy_Time", "Buy_ID", "Buy_Qty", "Buy_Price", "Buy_Fee", "Buy_Total",
	"Sell_Time", "Sell_ID", "Sell_Qty", "Sell_Price", "Sell_Fee", "Sell_Total",
	"P_L",
}

// Row is one round trip: a buy fill and, once it arrives, the matching sell
// fill. Orphan rows carry only the sell side. Values are kept as the exchange
// reported them.
type Row struct {
	Strategy  string `json:"strategy"`
	Symbol    string `json:"symbol"`
	BuyTime   string `json:"buy_time,omitempty"`
	BuyID     string `json:"buy_id,omitempty"`
	BuyQty    string `json:"buy_qty,omitempty"`
	BuyPrice  string `json:"buy_price,omitempty"`
	BuyFee    string `json:"buy_fee,omitempty"`
	BuyTotal  string `json:"buy_total,omitempty"`
	SellTime  string `json:"sell_time,omitempty"`
	SellID    string `json:"sell_id,omitempty"`
	SellQty   string `json:"sell_qty,omitempty"`
	SellPrice string `json:"sell_price,omitempty"`
	SellFee   string `json:"sell_fee,omitempty"`
	SellTotal string `json:"sell_total,omitempty"`
	PnL       string `json:"pnl,omitempty"`
}

func (r Row) Orphan() bool { return r.BuyID == "" }

func (r Row) Closed() bool { return r.SellID != "" }

// Values returns the row in Columns order.
func (r Row) Values() []string {
	return []string{
		r.Strategy, r.Symbol,
		r.BuyTime, r.BuyID, r.BuyQty, r.BuyPrice, r.BuyFee, r.BuyTotal,
		r.SellTime, r.SellID, r.SellQty, r.SellPrice, r.SellFee, r.SellTotal,
		r.PnL,
	}
}

func RowFromValues(v []string) (Row, error) {
	if len(v) != len(Columns) {
		return Row{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(v))
	}
	return Row{
		Strategy: v[0], Symbol: v[1],
		BuyTime: v[2], BuyID: v[3], BuyQty: v[4], BuyPrice: v[5], BuyFee: v[6], BuyTotal: v[7],
		SellTime: v[8], SellID: v[9], SellQty: v[10], SellPrice: v[11], SellFee: v[12], SellTotal: v[13],
		PnL: v[14],
	}, nil
}

// Fill is one side of a round trip.
type Fill struct {
	Strategy spot.Strategy
	Symbol   string
	Time     time.Time
	ID       string
	Qty      string
	Price    string
	Fee      string
	Total    string
}

// FillFromReport builds a fill from an execution report. id is the
// reconciliation tag and qty the quantity to book. A missing quote total is
// derived as price × qty.
func FillFromReport(r spot.ExecutionReport, strategy spot.Strategy, id, qty string) Fill {
	f := Fill{
		Strategy: strategy,
		Symbol:   spot.NormalizeSymbol(r.Symbol),
		Time:     r.EventTime.Time(),
		ID:       id,
		Qty:      qty,
		Price:    string(r.Price),
		Fee:      string(r.Fee),
		Total:    string(r.FilledTotal),
	}
	if f.Total == "" {
		price, perr := decimal.NewFromString(f.Price)
		q, qerr := decimal.NewFromString(qty)
		if perr == nil && qerr == nil {
			f.Total = price.Mul(q).String()
		}
	}
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// realized is Sell_Total − Buy_Total − Buy_Fee − Sell_Fee. Fees are assumed
// to be charged in the quote currency.
func realized(r Row) (decimal.Decimal, error) {
	var sum decimal.Decimal
	for i, v := range []string{r.SellTotal, r.BuyTotal, r.BuyFee, r.SellFee} {
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse %q: %w", v, err)
		}
		if i == 0 {
			sum = sum.Add(d)
		} else {
			sum = sum.Sub(d)
		}
	}
	return sum, nil
}

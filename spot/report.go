package spot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const EventExecutionReport = "executionReport"

// ExecutionReport is a private stream event describing an order status
// change. Field tags follow the exchange's short codes.
type ExecutionReport struct {
	EventType      string      `json:"e"`
	EventTime      EpochMilli  `json:"E"`
	Symbol         string      `json:"s"`
	ClientOrderID  string      `json:"c"`
	Side           Side        `json:"S"`
	OrderType      OrderType   `json:"o"`
	Status         OrderStatus `json:"X"`
	OrderID        NumString   `json:"i"`
	ExecutionID    NumString   `json:"d"`
	Price          NumString   `json:"p"`
	Quantity       NumString   `json:"q"`
	FilledQuantity NumString   `json:"z"`
	Fee            NumString   `json:"n"`
	FilledTotal    NumString   `json:"Z"`
}

// UnmarshalJSON decodes a report case-sensitively. The exchange sends keys
// that differ from the tagged ones only by case (O, C, N, x, ...), and
// encoding/json would otherwise fold them onto the tagged fields.
func (r *ExecutionReport) UnmarshalJSON(b []byte) error {
	type plain ExecutionReport
	var w struct {
		plain
		OrderCreated  json.RawMessage `json:"O"`
		OrigClientID  json.RawMessage `json:"C"`
		FeeAsset      json.RawMessage `json:"N"`
		Ignore        json.RawMessage `json:"I"`
		StopPrice     json.RawMessage `json:"P"`
		QuoteQuantity json.RawMessage `json:"Q"`
		Deleted       json.RawMessage `json:"D"`
		LastPrice     json.RawMessage `json:"L"`
		ExecType      json.RawMessage `json:"x"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = ExecutionReport(w.plain)
	return nil
}

// Tag is the reconciliation key of the order: its client order id, or the
// exchange order id when no client id was attached.
func (r ExecutionReport) Tag() string {
	if r.ClientOrderID != "" {
		return r.ClientOrderID
	}
	return string(r.OrderID)
}

// ExecutionTag keys a partial execution so it never collides with the tag of
// the full fill of the same order.
func (r ExecutionReport) ExecutionTag() string {
	if r.ExecutionID != "" {
		return string(r.ExecutionID)
	}
	if r.OrderID == "" {
		return ""
	}
	return string(r.OrderID) + "-pc"
}

// Filled is the cumulative filled quantity, falling back to the order quantity
// when the exchange omits it.
func (r ExecutionReport) Filled() string {
	if r.FilledQuantity != "" {
		return string(r.FilledQuantity)
	}
	return string(r.Quantity)
}

func (r ExecutionReport) Is(side Side, typ OrderType, status OrderStatus) bool {
	return r.Side == side && r.OrderType == typ && r.Status == status
}

// NumString keeps an exchange number verbatim. It accepts both quoted and bare
// JSON numbers.
type NumString string

func (n *NumString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = NumString(num.String())
	return nil
}

func (n NumString) Decimal() (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(n))
}

// EpochMilli is a millisecond unix timestamp, quoted or bare.
type EpochMilli int64

func (e *EpochMilli) UnmarshalJSON(b []byte) error {
	var raw NumString
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	if raw == "" {
		*e = 0
		return nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("parse epoch millis %q: %w", raw, err)
	}
	*e = EpochMilli(v)
	return nil
}

func (e EpochMilli) Time() time.Time {
	return time.UnixMilli(int64(e)).UTC()
}

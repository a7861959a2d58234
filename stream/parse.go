package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/recomma/spotmaker/spot"
)

// ParseBatch decodes one inbound frame. Business events arrive as a JSON
// array of execution reports; anything else (ping, pong, subscription acks)
// is a control frame and yields no reports. A malformed element is reported
// in errs without affecting its siblings. err is set only when the frame is
// not JSON at all.
func ParseBatch(msg []byte) (reports []spot.ExecutionReport, errs []error, err error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil, nil
	}
	if msg[0] != '[' {
		if !json.Valid(msg) {
			return nil, nil, fmt.Errorf("invalid frame: %.64q", msg)
		}
		return nil, nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode batch: %w", err)
	}

	reports = make([]spot.ExecutionReport, 0, len(raw))
	for i, item := range raw {
		var r spot.ExecutionReport
		if err := json.Unmarshal(item, &r); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		reports = append(reports, r)
	}
	return reports, errs, nil
}

type subscribeParams struct {
	Binary bool `json:"binary"`
}

type subscription struct {
	Symbol string          `json:"symbol"`
	Topic  string          `json:"topic"`
	Event  string          `json:"event"`
	Params subscribeParams `json:"params"`
	ID     int             `json:"id"`
}

const (
	eventSubscribe   = "sub"
	eventUnsubscribe = "cancel_all"
)

type ping struct {
	Ping int64 `json:"ping"`
}

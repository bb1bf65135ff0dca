package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalType classifies the trading decision a signal carries.
type SignalType string

const (
	SignalBuy        SignalType = "buy"
	SignalSell       SignalType = "sell"
	SignalHold       SignalType = "hold"
	SignalClose      SignalType = "close"
	SignalStopLoss   SignalType = "stop_loss"
	SignalTakeProfit SignalType = "take_profit"
)

// signalTypes enumerates every valid SignalType tag.
var signalTypes = map[SignalType]bool{
	SignalBuy:        true,
	SignalSell:       true,
	SignalHold:       true,
	SignalClose:      true,
	SignalStopLoss:   true,
	SignalTakeProfit: true,
}

// ParseSignalType converts a string tag into a SignalType. It returns an
// error for tags outside the known set.
func ParseSignalType(tag string) (SignalType, error) {
	t := SignalType(tag)
	if !signalTypes[t] {
		return "", fmt.Errorf("domain: unknown signal type %q", tag)
	}
	return t, nil
}

// Signal is one trading decision emitted by a strategy. Fields are not
// mutated after construction; treat values as immutable once built.
type Signal struct {
	Type       SignalType
	Symbol     string
	Confidence float64
	Price      *float64
	Quantity   *float64
	StopLoss   *float64
	TakeProfit *float64
	Metadata   map[string]string
	Timestamp  time.Time
	Source     string
}

// NewSignal builds a Signal with defaults filled in (empty metadata, UTC
// timestamp, "unknown" source) and validates it. Confidence must lie in
// [0, 1] and symbol must be non-empty.
func NewSignal(typ SignalType, symbol string, confidence float64) (Signal, error) {
	s := Signal{
		Type:       typ,
		Symbol:     symbol,
		Confidence: confidence,
		Metadata:   map[string]string{},
		Timestamp:  time.Now().UTC(),
		Source:     "unknown",
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Validate checks the construction invariants.
func (s Signal) Validate() error {
	if !signalTypes[s.Type] {
		return fmt.Errorf("domain: unknown signal type %q", string(s.Type))
	}
	if s.Symbol == "" {
		return fmt.Errorf("domain: signal symbol must not be empty")
	}
	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("domain: signal confidence %v outside [0.0, 1.0]", s.Confidence)
	}
	return nil
}

// IsActionable reports whether the signal requires any action (everything
// except hold).
func (s Signal) IsActionable() bool {
	return s.Type != SignalHold
}

// IsEntrySignal reports whether the signal opens a position.
func (s Signal) IsEntrySignal() bool {
	return s.Type == SignalBuy
}

// IsExitSignal reports whether the signal exits a position (sell, close,
// stop_loss, or take_profit).
func (s Signal) IsExitSignal() bool {
	switch s.Type {
	case SignalSell, SignalClose, SignalStopLoss, SignalTakeProfit:
		return true
	}
	return false
}

// ToMap converts the signal into a generic map: type as its string tag,
// timestamp as RFC 3339, absent optionals as nil. The result round-trips
// through SignalFromMap.
func (s Signal) ToMap() map[string]any {
	m := map[string]any{
		"type":        string(s.Type),
		"symbol":      s.Symbol,
		"confidence":  s.Confidence,
		"price":       nil,
		"quantity":    nil,
		"stop_loss":   nil,
		"take_profit": nil,
		"metadata":    s.Metadata,
		"timestamp":   s.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":      s.Source,
	}
	if s.Price != nil {
		m["price"] = *s.Price
	}
	if s.Quantity != nil {
		m["quantity"] = *s.Quantity
	}
	if s.StopLoss != nil {
		m["stop_loss"] = *s.StopLoss
	}
	if s.TakeProfit != nil {
		m["take_profit"] = *s.TakeProfit
	}
	return m
}

// SignalFromMap reconstructs a Signal from the ToMap representation. Unknown
// type tags and out-of-range confidence values are rejected.
func SignalFromMap(m map[string]any) (Signal, error) {
	tag, _ := m["type"].(string)
	typ, err := ParseSignalType(tag)
	if err != nil {
		return Signal{}, err
	}

	s := Signal{
		Type:     typ,
		Metadata: map[string]string{},
		Source:   "unknown",
	}
	s.Symbol, _ = m["symbol"].(string)

	conf, ok, err := mapFloat(m, "confidence")
	if err != nil {
		return Signal{}, err
	}
	if ok {
		s.Confidence = conf
	} else {
		s.Confidence = 1.0
	}

	for key, dst := range map[string]**float64{
		"price":       &s.Price,
		"quantity":    &s.Quantity,
		"stop_loss":   &s.StopLoss,
		"take_profit": &s.TakeProfit,
	} {
		v, ok, err := mapFloat(m, key)
		if err != nil {
			return Signal{}, err
		}
		if ok {
			f := v
			*dst = &f
		}
	}

	switch meta := m["metadata"].(type) {
	case map[string]string:
		for k, v := range meta {
			s.Metadata[k] = v
		}
	case map[string]any:
		for k, v := range meta {
			s.Metadata[k] = fmt.Sprint(v)
		}
	}

	if raw, ok := m["timestamp"].(string); ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Signal{}, fmt.Errorf("domain: parse signal timestamp: %w", err)
		}
		s.Timestamp = ts.UTC()
	} else {
		s.Timestamp = time.Now().UTC()
	}

	if src, ok := m["source"].(string); ok && src != "" {
		s.Source = src
	}

	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// mapFloat extracts an optional numeric field. JSON decoding produces
// float64, but int is tolerated for hand-built maps.
func mapFloat(m map[string]any, key string) (float64, bool, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("domain: signal field %q: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("domain: signal field %q has non-numeric type %T", key, raw)
	}
}

// signalWire is the JSON shape shared with ToMap.
type signalWire struct {
	Type       string            `json:"type"`
	Symbol     string            `json:"symbol"`
	Confidence float64           `json:"confidence"`
	Price      *float64          `json:"price"`
	Quantity   *float64          `json:"quantity"`
	StopLoss   *float64          `json:"stop_loss"`
	TakeProfit *float64          `json:"take_profit"`
	Metadata   map[string]string `json:"metadata"`
	Timestamp  string            `json:"timestamp"`
	Source     string            `json:"source"`
}

// MarshalJSON encodes the signal in the same wire shape as ToMap.
func (s Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(signalWire{
		Type:       string(s.Type),
		Symbol:     s.Symbol,
		Confidence: s.Confidence,
		Price:      s.Price,
		Quantity:   s.Quantity,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Metadata:   s.Metadata,
		Timestamp:  s.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:     s.Source,
	})
}

// UnmarshalJSON decodes and validates a signal from its wire shape.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w signalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decode signal: %w", err)
	}
	typ, err := ParseSignalType(w.Type)
	if err != nil {
		return err
	}
	out := Signal{
		Type:       typ,
		Symbol:     w.Symbol,
		Confidence: w.Confidence,
		Price:      w.Price,
		Quantity:   w.Quantity,
		StopLoss:   w.StopLoss,
		TakeProfit: w.TakeProfit,
		Metadata:   w.Metadata,
		Source:     w.Source,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if out.Source == "" {
		out.Source = "unknown"
	}
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("domain: parse signal timestamp: %w", err)
		}
		out.Timestamp = ts.UTC()
	} else {
		out.Timestamp = time.Now().UTC()
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// String renders a short human-readable summary for logs.
func (s Signal) String() string {
	if s.Price != nil {
		return fmt.Sprintf("Signal(%s %s confidence=%.2f price=%v)", s.Type, s.Symbol, s.Confidence, *s.Price)
	}
	return fmt.Sprintf("Signal(%s %s confidence=%.2f)", s.Type, s.Symbol, s.Confidence)
}

package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func TestNewSignalValidatesConfidence(t *testing.T) {
	for _, conf := range []float64{-0.01, 1.01, 2.0, -100} {
		if _, err := NewSignal(SignalBuy, "BTC/USDT", conf); err == nil {
			t.Fatalf("confidence %v should be rejected", conf)
		}
	}
	for _, conf := range []float64{0.0, 0.5, 1.0} {
		if _, err := NewSignal(SignalBuy, "BTC/USDT", conf); err != nil {
			t.Fatalf("confidence %v should be accepted: %v", conf, err)
		}
	}
}

func TestNewSignalRequiresSymbol(t *testing.T) {
	if _, err := NewSignal(SignalSell, "", 1.0); err == nil {
		t.Fatalf("empty symbol should be rejected")
	}
}

func TestNewSignalDefaults(t *testing.T) {
	s, err := NewSignal(SignalHold, "ETH/USDT", 1.0)
	if err != nil {
		t.Fatalf("NewSignal: %v", err)
	}
	if s.Metadata == nil || len(s.Metadata) != 0 {
		t.Fatalf("metadata should default to empty map, got %v", s.Metadata)
	}
	if s.Timestamp.IsZero() || s.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp should default to a UTC instant, got %v", s.Timestamp)
	}
	if s.Source != "unknown" {
		t.Fatalf("source should default to unknown, got %q", s.Source)
	}
}

func TestSignalQueries(t *testing.T) {
	exits := map[SignalType]bool{
		SignalBuy:        false,
		SignalSell:       true,
		SignalHold:       false,
		SignalClose:      true,
		SignalStopLoss:   true,
		SignalTakeProfit: true,
	}
	for typ, wantExit := range exits {
		s, err := NewSignal(typ, "BTC/USDT", 0.9)
		if err != nil {
			t.Fatalf("NewSignal(%s): %v", typ, err)
		}
		if got := s.IsExitSignal(); got != wantExit {
			t.Fatalf("%s: IsExitSignal=%v want %v", typ, got, wantExit)
		}
		if got := s.IsEntrySignal(); got != (typ == SignalBuy) {
			t.Fatalf("%s: IsEntrySignal=%v", typ, got)
		}
		if got := s.IsActionable(); got != (typ != SignalHold) {
			t.Fatalf("%s: IsActionable=%v", typ, got)
		}
	}
}

func TestSignalMapRoundTrip(t *testing.T) {
	full := Signal{
		Type:       SignalBuy,
		Symbol:     "BTC/USDT",
		Confidence: 0.85,
		Price:      floatPtr(45000.0),
		Quantity:   floatPtr(0.25),
		StopLoss:   floatPtr(44000.0),
		TakeProfit: floatPtr(46000.0),
		Metadata:   map[string]string{"reason": "breakout"},
		Timestamp:  time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Source:     "ema_cross",
	}
	sparse := Signal{
		Type:       SignalHold,
		Symbol:     "ETH/USDT",
		Confidence: 1.0,
		Metadata:   map[string]string{},
		Timestamp:  time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Source:     "unknown",
	}

	for _, orig := range []Signal{full, sparse} {
		got, err := SignalFromMap(orig.ToMap())
		if err != nil {
			t.Fatalf("SignalFromMap: %v", err)
		}
		if !reflect.DeepEqual(got, orig) {
			t.Fatalf("map round trip mismatch:\n got %#v\nwant %#v", got, orig)
		}
	}
}

func TestSignalJSONRoundTrip(t *testing.T) {
	orig := Signal{
		Type:       SignalStopLoss,
		Symbol:     "SOL/USDT",
		Confidence: 0.4,
		Price:      floatPtr(151.5),
		Metadata:   map[string]string{"trigger": "sl"},
		Timestamp:  time.Date(2025, 7, 4, 9, 0, 0, 123456789, time.UTC),
		Source:     "risk",
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Signal
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, orig) {
		t.Fatalf("json round trip mismatch:\n got %#v\nwant %#v", got, orig)
	}
}

func TestSignalFromMapRejectsUnknownType(t *testing.T) {
	m := map[string]any{"type": "shrug", "symbol": "BTC/USDT", "confidence": 1.0}
	if _, err := SignalFromMap(m); err == nil {
		t.Fatalf("unknown type tag should be rejected")
	}
}

func TestSignalFromMapRejectsBadConfidence(t *testing.T) {
	m := map[string]any{"type": "buy", "symbol": "BTC/USDT", "confidence": 1.5}
	if _, err := SignalFromMap(m); err == nil {
		t.Fatalf("out-of-range confidence should be rejected")
	}
}

func TestParseSignalType(t *testing.T) {
	for _, tag := range []string{"buy", "sell", "hold", "close", "stop_loss", "take_profit"} {
		if _, err := ParseSignalType(tag); err != nil {
			t.Fatalf("tag %q should parse: %v", tag, err)
		}
	}
	if _, err := ParseSignalType("BUY"); err == nil {
		t.Fatalf("tags are lowercase only")
	}
}

package queue

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
)

func TestEncodeDecodeEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := EventMessage{ProductID: 42, VariationID: 7, Event: analytics.EventPurchase, OccurredAt: at}

	km, err := encodeEvent(msg)
	if err != nil {
		t.Fatalf("encodeEvent error = %v", err)
	}
	if string(km.Key) != msg.Key().String() {
		t.Errorf("key = %q, want %q", km.Key, msg.Key().String())
	}
	if !km.Time.Equal(at) {
		t.Errorf("time = %v", km.Time)
	}

	got, err := decodeEvent(km)
	if err != nil {
		t.Fatalf("decodeEvent error = %v", err)
	}
	if got.Key() != msg.Key() || got.Event != msg.Event || !got.OccurredAt.Equal(at) {
		t.Errorf("decoded = %+v, want %+v", got, msg)
	}
}

func TestEncodeRejectsUnknownEvent(t *testing.T) {
	if _, err := encodeEvent(EventMessage{ProductID: 1, Event: "teleport"}); err == nil {
		t.Error("encodeEvent accepted an unknown event")
	}
}

func TestDecodeRejectsBadPayload(t *testing.T) {
	tests := map[string]string{
		"not json":      "{",
		"unknown event": `{"product_id":1,"variation_id":0,"event":"teleport"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeEvent(kafka.Message{Value: []byte(payload)}); err == nil {
				t.Error("decodeEvent accepted a bad payload")
			}
		})
	}
}

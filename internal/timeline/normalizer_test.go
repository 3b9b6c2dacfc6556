package timeline

import (
	"testing"
	"time"

	"github.com/proofmeet/courtcard-engine/internal/provider"
	"github.com/proofmeet/courtcard-engine/pkg/models"
)

func fixedNormalizer(now time.Time) *Normalizer {
	n := NewNormalizer(nil, "zoomish")
	n.now = func() time.Time { return now }
	return n
}

func TestResolveTimestamp_ClockPolicy(t *testing.T) {
	now := time.Date(2025, 3, 10, 19, 30, 0, 0, time.UTC)
	n := fixedNormalizer(now)

	t.Run("trusted within window", func(t *testing.T) {
		reported := now.Add(-9 * time.Minute)
		got, data := n.resolveTimestamp(reported, true, nil)
		if !got.Equal(reported) {
			t.Errorf("timestamp = %v, want reported %v", got, reported)
		}
		if data != nil {
			t.Errorf("no flag expected for trusted timestamp, got %v", data)
		}
	})

	t.Run("exactly at window edge", func(t *testing.T) {
		reported := now.Add(-10 * time.Minute)
		got, _ := n.resolveTimestamp(reported, true, nil)
		if !got.Equal(reported) {
			t.Errorf("timestamp at ±10 min must still be trusted")
		}
	})

	t.Run("skewed beyond window", func(t *testing.T) {
		reported := now.Add(11 * time.Minute)
		got, data := n.resolveTimestamp(reported, true, nil)
		if !got.Equal(now) {
			t.Errorf("timestamp = %v, want server time %v", got, now)
		}
		if data["clockSkewAdjusted"] != true {
			t.Errorf("expected clockSkewAdjusted flag, got %v", data)
		}
		if data["reportedTime"] != reported.UTC().Format(time.RFC3339) {
			t.Errorf("expected the original reported time preserved in data")
		}
	})

	t.Run("absent timestamp", func(t *testing.T) {
		got, data := n.resolveTimestamp(time.Time{}, false, nil)
		if !got.Equal(now) {
			t.Errorf("timestamp = %v, want server time", got)
		}
		if data != nil {
			t.Errorf("absent timestamp is not a skew, got flag %v", data)
		}
	})
}

func TestWebhookKindMapping(t *testing.T) {
	tests := []struct {
		in   string
		want models.EventKind
	}{
		{provider.EventParticipantJoin, models.EventJoined},
		{provider.EventParticipantLeave, models.EventLeft},
		{provider.EventVideoStarted, models.EventVideoOn},
		{provider.EventVideoStopped, models.EventVideoOff},
	}
	for _, tt := range tests {
		got, err := webhookKind(tt.in)
		if err != nil {
			t.Errorf("webhookKind(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("webhookKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := webhookKind("meeting.ended"); err == nil {
		t.Errorf("expected error for unhandled webhook event kind")
	}
}

func TestParseHeartbeatKind(t *testing.T) {
	for _, raw := range []string{"ACTIVE", "idle", " mouse ", "KEYBOARD", "scroll", "CLICK"} {
		if _, err := ParseHeartbeatKind(raw); err != nil {
			t.Errorf("ParseHeartbeatKind(%q) unexpected error: %v", raw, err)
		}
	}
	for _, raw := range []string{"JOINED", "LEFT", "VIDEO_ON", "", "bogus"} {
		if _, err := ParseHeartbeatKind(raw); err == nil {
			t.Errorf("ParseHeartbeatKind(%q) expected error", raw)
		}
	}
}

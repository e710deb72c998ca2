package notify

import (
	"context"
	"testing"
	"time"

	"kasa-backend/internal/feed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFeed_RoundTripsThroughHub(t *testing.T) {
	hub := feed.NewHub("test")
	defer hub.Close()
	sub := hub.Subscribe(4, feed.CashierNoticeTopic(3))
	defer sub.Close()

	rec := NewRecorder(4)
	n := Multi{NewLog(zaptest.NewLogger(t)), NewFeed(hub), rec}
	n.Notify(context.Background(), Notice{
		Kind:      AutoClosed,
		CashierID: 3,
		SessionID: "s-9",
		Message:   "Kasa otomatik kapatıldı",
		At:        time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC),
	})

	select {
	case ev := <-sub.C:
		got, ok := Decode(ev)
		require.True(t, ok)
		assert.Equal(t, AutoClosed, got.Kind)
		assert.Equal(t, "s-9", got.SessionID)
		assert.Equal(t, "s-9", ev.EntityID)
	case <-time.After(time.Second):
		t.Fatal("notice not published")
	}

	assert.Equal(t, []Kind{AutoClosed}, Kinds(rec.Drain()))
	assert.Empty(t, rec.Drain())
}

func TestDecode_IgnoresOtherKinds(t *testing.T) {
	_, ok := Decode(feed.Event{Kind: feed.KindSessionClosed, Payload: `{}`})
	assert.False(t, ok)
	_, ok = Decode(feed.Event{Kind: feed.KindNotice, Payload: `not json`})
	assert.False(t, ok)
}

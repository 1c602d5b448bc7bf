package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDeliverer captures delivered intents.
type recordingDeliverer struct {
	mu      sync.Mutex
	intents []Intent
	fail    bool
	done    chan struct{}
}

func newRecordingDeliverer(expect int) *recordingDeliverer {
	return &recordingDeliverer{done: make(chan struct{}, expect)}
}

func (r *recordingDeliverer) Deliver(ctx context.Context, intent Intent) error {
	r.mu.Lock()
	r.intents = append(r.intents, intent)
	r.mu.Unlock()
	r.done <- struct{}{}
	if r.fail {
		return errors.New("notifier unavailable")
	}
	return nil
}

func (r *recordingDeliverer) delivered() []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Intent(nil), r.intents...)
}

func waitFor(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d/%d", i+1, n)
		}
	}
}

func TestSink_DeliversAsync(t *testing.T) {
	d := newRecordingDeliverer(2)
	sink := NewSink(d, 16)
	sink.Start()
	defer sink.Stop()

	sink.Publish(Intent{Kind: KindJobOffer, Offer: &JobOffer{JobID: "job-1", OperatorID: "op-b"}})
	sink.Publish(Intent{Kind: KindBidWon, BidWon: &BidWon{JobID: "job-1", OperatorID: "op-b"}})

	waitFor(t, d.done, 2)
	got := d.delivered()
	require.Len(t, got, 2)
	assert.Equal(t, KindJobOffer, got[0].Kind)
	assert.Equal(t, KindBidWon, got[1].Kind)
	assert.False(t, got[0].EmittedAt.IsZero())
}

func TestSink_PublishNeverBlocksWhenFull(t *testing.T) {
	// No worker running: the 1-slot buffer fills and further publishes drop.
	sink := NewSink(newRecordingDeliverer(0), 1)

	done := make(chan struct{})
	go func() {
		sink.Publish(Intent{Kind: KindBroadcastNewJob})
		sink.Publish(Intent{Kind: KindBroadcastNewJob})
		sink.Publish(Intent{Kind: KindBroadcastNewJob})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, 1, sink.Depth())
}

func TestSink_DeliveryFailureIsSwallowed(t *testing.T) {
	d := newRecordingDeliverer(2)
	d.fail = true
	sink := NewSink(d, 16)
	sink.Start()
	defer sink.Stop()

	sink.Publish(Intent{Kind: KindEscalationToAdmin, Escalation: &EscalationToAdmin{JobID: "job-1", Reason: ReasonNoBidsReceived}})
	sink.Publish(Intent{Kind: KindJobOffer})

	// Both attempts happen despite the first failing.
	waitFor(t, d.done, 2)
	assert.Len(t, d.delivered(), 2)
}

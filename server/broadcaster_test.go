package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"mltetris/telemetry"
)

// fakeSender records deliveries and optionally fails every write.
type fakeSender struct {
	received []interface{}
	fail     bool
}

func (f *fakeSender) WriteJSON(v interface{}) error {
	if f.fail {
		return errors.New("connection reset")
	}
	f.received = append(f.received, v)
	return nil
}

func TestBroadcastDelivery(t *testing.T) {
	b := NewBroadcaster()
	first, second := &fakeSender{}, &fakeSender{}
	b.Register(first)
	b.Register(second)

	b.Broadcast(telemetry.NewInfo("hello"))

	assert.Len(t, first.received, 1)
	assert.Len(t, second.received, 1)
	assert.Equal(t, 2, b.Count())
}

func TestBroadcastPrunesDeadClient(t *testing.T) {
	b := NewBroadcaster()
	healthy1 := &fakeSender{}
	dead := &fakeSender{fail: true}
	healthy2 := &fakeSender{}
	b.Register(healthy1)
	b.Register(dead)
	b.Register(healthy2)

	// One failing peer must not disturb delivery to its neighbors.
	b.Broadcast(telemetry.NewInfo("one"))
	assert.Len(t, healthy1.received, 1)
	assert.Len(t, healthy2.received, 1)
	assert.Equal(t, 2, b.Count())

	b.Broadcast(telemetry.NewInfo("two"))
	assert.Len(t, healthy1.received, 2)
	assert.Len(t, healthy2.received, 2)
}

func TestBroadcastOrderPerClient(t *testing.T) {
	b := NewBroadcaster()
	cli := &fakeSender{}
	b.Register(cli)

	b.Broadcast(telemetry.NewInfo("first"))
	b.Broadcast(telemetry.NewInfo("second"))
	b.Broadcast(telemetry.NewInfo("third"))

	assert.Equal(t, []interface{}{
		telemetry.NewInfo("first"),
		telemetry.NewInfo("second"),
		telemetry.NewInfo("third"),
	}, cli.received)
}

func TestSendToPrunesOnFailure(t *testing.T) {
	b := NewBroadcaster()
	dead := &fakeSender{fail: true}
	b.Register(dead)

	b.SendTo(dead, telemetry.NewPing())
	assert.Equal(t, 0, b.Count())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	cli := &fakeSender{}
	b.Register(cli)
	b.Unregister(cli)
	b.Unregister(cli)
	assert.Equal(t, 0, b.Count())
}

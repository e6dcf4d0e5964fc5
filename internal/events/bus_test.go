package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

func TestSubscribeReceivesOwnRun(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe("r1")
	defer cancel()
	all, cancelAll := bus.Subscribe("")
	defer cancelAll()

	bus.Observe(pipeline.Event{RunID: "r2", Type: pipeline.EventRunStarted})
	bus.Observe(pipeline.Event{RunID: "r1", Type: pipeline.EventStageStarted, Stage: "researcher"})

	select {
	case e := <-ch:
		assert.Equal(t, "r1", e.RunID)
		assert.Equal(t, "researcher", e.Stage)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Len(t, all, 2)
	assert.Len(t, ch, 0)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus(nil)
	bus.buffer = 2
	ch, cancel := bus.Subscribe("r1")
	defer cancel()
	for i := 0; i < 5; i++ {
		bus.Observe(pipeline.Event{RunID: "r1", Type: pipeline.EventRepair})
	}
	assert.Len(t, ch, 2)
}

func TestCancelClosesAndUnregisters(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe("r1")
	require.Equal(t, 1, bus.Subscribers("r1"))
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers("r1"))
	bus.Observe(pipeline.Event{RunID: "r1"})
}

func TestFanout(t *testing.T) {
	var got []string
	obs := Fanout(nil,
		pipeline.ObserverFunc(func(e pipeline.Event) { got = append(got, "a:"+e.Type) }),
		pipeline.ObserverFunc(func(e pipeline.Event) { got = append(got, "b:"+e.Type) }),
	)
	obs.Observe(pipeline.Event{Type: "x"})
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

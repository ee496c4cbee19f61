package emulator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBufferDropsOldest(t *testing.T) {
	buffer := NewEventBuffer(3)

	for i := 0; i < 5; i++ {
		buffer.Emit(Event{
			Kind:      EventError,
			Timestamp: time.Now(),
			Message:   fmt.Sprintf("event %d", i),
		})
	}

	events := buffer.Snapshot()
	require.Len(t, events, 3)
	require.Equal(t, "event 2", events[0].Message)
	require.Equal(t, "event 4", events[2].Message)
}

func TestEventBufferDefaultCap(t *testing.T) {
	buffer := NewEventBuffer(0)

	for i := 0; i < DefaultEventCap+10; i++ {
		buffer.Emit(Event{Kind: EventError})
	}
	require.Equal(t, DefaultEventCap, buffer.Len())
}

func TestEventBufferSnapshotIsCopy(t *testing.T) {
	buffer := NewEventBuffer(10)
	buffer.Emit(Event{Kind: EventBacRequest, Message: "original"})

	snapshot := buffer.Snapshot()
	snapshot[0].Message = "mutated"

	require.Equal(t, "original", buffer.Snapshot()[0].Message)
}

func TestEventBufferConcurrentEmit(t *testing.T) {
	buffer := NewEventBuffer(50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				buffer.Emit(Event{Kind: EventError})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, buffer.Len())
}

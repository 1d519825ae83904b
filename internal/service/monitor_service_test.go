package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan ExamEvent) ExamEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exam event")
		return ExamEvent{}
	}
}

func TestMonitorBroadcastsPerExam(t *testing.T) {
	monitor := NewMonitorService(nil, "", nil, testLogger())

	first, cancelFirst := monitor.Subscribe(1)
	second, cancelSecond := monitor.Subscribe(1)
	other, cancelOther := monitor.Subscribe(2)
	defer cancelSecond()
	defer cancelOther()

	monitor.Publish(context.Background(), ExamEvent{Type: EventSubmissionStarted, ExamID: 1, SubmissionID: 10})

	require.Equal(t, uint(10), receive(t, first).SubmissionID)
	event := receive(t, second)
	require.Equal(t, EventSubmissionStarted, event.Type)
	require.False(t, event.OccurredAt.IsZero())

	select {
	case unexpected := <-other:
		t.Fatalf("exam 2 subscriber received %v", unexpected)
	default:
	}

	cancelFirst()
	cancelFirst()
	_, open := <-first
	require.False(t, open)
}

func TestMonitorDropsEventsForSlowSubscribers(t *testing.T) {
	monitor := NewMonitorService(nil, "", nil, testLogger())
	ch, cancel := monitor.Subscribe(7)
	defer cancel()

	for i := 0; i < monitorBufferSize+5; i++ {
		monitor.Publish(context.Background(), ExamEvent{Type: EventViolationRecorded, ExamID: 7})
	}
	require.Len(t, ch, monitorBufferSize)
}

func TestMonitorRelaysBetweenNodesThroughRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	clientA := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewMonitorService(clientA, "exam:events", nil, testLogger())
	nodeB := NewMonitorService(clientB, "exam:events", nil, testLogger())
	nodeA.Start(ctx)
	nodeB.Start(ctx)

	require.Eventually(t, func() bool {
		return server.PubSubNumSub("exam:events")["exam:events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	local, cancelLocal := nodeA.Subscribe(3)
	defer cancelLocal()
	remote, cancelRemote := nodeB.Subscribe(3)
	defer cancelRemote()

	nodeA.Publish(ctx, ExamEvent{Type: EventSubmissionSubmitted, ExamID: 3, SubmissionID: 99})

	require.Equal(t, uint(99), receive(t, local).SubmissionID)
	require.Equal(t, uint(99), receive(t, remote).SubmissionID)

	// The publishing node ignores its own relayed copy.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, local, 0)
}

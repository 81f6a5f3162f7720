package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharebeam/internal/errs"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *memSink) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *memSink) recorded() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestLedger_Lifecycle(t *testing.T) {
	sink := &memSink{}
	l := NewLedger(WithSinks(sink), WithClock(fixedClock()))

	var mu sync.Mutex
	var kinds []EventKind
	l.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	d := l.Begin("a.txt", 10)
	require.NotEmpty(t, d.ID())

	d.Progress(4)
	_, err := io.Copy(d, strings.NewReader("123456"))
	require.NoError(t, err)
	d.Complete()

	d.Progress(100)
	d.Cancel()
	l.Flush()

	entries := l.Snapshot()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "a.txt", e.Name)
	assert.False(t, e.Archive)
	assert.EqualValues(t, 10, e.BytesTransferred)
	assert.EqualValues(t, 10, e.TotalBytes)
	assert.True(t, e.Completed)
	assert.False(t, e.Canceled)
	assert.False(t, e.FinishedAt.IsZero())

	mu.Lock()
	assert.Equal(t, []EventKind{EventStarted, EventProgress, EventProgress, EventCompleted}, kinds)
	mu.Unlock()

	require.Len(t, sink.recorded(), 1)
	assert.Equal(t, e, sink.recorded()[0])
}

func TestLedger_Clear(t *testing.T) {
	l := NewLedger(WithClock(fixedClock()))

	done := l.Begin("a.txt", 1)
	done.Complete()
	running := l.Begin(ArchiveName, 100)
	running.Progress(10)

	err := l.Clear()
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, 2, l.Len(), "nothing dropped while a download runs")

	running.Cancel()
	require.NoError(t, l.Clear())
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Snapshot())

	running.Progress(5)
	assert.Zero(t, l.Len(), "finished handles cannot resurrect entries")

	l.Begin("b.txt", 1).Complete()
	require.Len(t, l.Snapshot(), 1)
	assert.Equal(t, "b.txt", l.Snapshot()[0].Name)
}

func TestLedger_Cancel(t *testing.T) {
	l := NewLedger()
	d := l.Begin(ArchiveName, 100)
	d.Progress(30)
	d.Cancel()
	d.Complete()

	e := l.Snapshot()[0]
	assert.True(t, e.Archive)
	assert.True(t, e.Canceled)
	assert.False(t, e.Completed)
	assert.True(t, e.Finished())
}

func TestLedger_ArrivalOrder(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 5; i++ {
		l.Begin(fmt.Sprintf("f%d", i), 0)
	}

	entries := l.Snapshot()
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("f%d", i), e.Name)
	}
}

func TestLedger_SnapshotIsACopy(t *testing.T) {
	l := NewLedger()
	d := l.Begin("a", 1)

	snap := l.Snapshot()
	snap[0].Name = "changed"
	d.Complete()

	assert.Equal(t, "a", l.Snapshot()[0].Name)
	assert.False(t, snap[0].Completed)
}

func TestLedger_ConcurrentDownloads(t *testing.T) {
	sink := &memSink{}
	l := NewLedger(WithSinks(sink))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := l.Begin(fmt.Sprintf("file-%d", i), 100)
			for j := 0; j < 10; j++ {
				d.Progress(10)
			}
			d.Complete()
		}(i)
	}
	wg.Wait()
	l.Flush()

	entries := l.Snapshot()
	require.Len(t, entries, n)
	ids := make(map[string]bool)
	for _, e := range entries {
		assert.True(t, e.Completed)
		assert.EqualValues(t, 100, e.BytesTransferred)
		ids[e.ID] = true
	}
	assert.Len(t, ids, n)
	assert.Len(t, sink.recorded(), n)
}

func TestLedger_SinkFailureIsIgnored(t *testing.T) {
	sink := &memSink{err: errors.New("unavailable")}
	l := NewLedger(WithSinks(sink))

	l.Begin("a", 1).Complete()
	l.Flush()

	assert.Len(t, sink.recorded(), 1)
	assert.True(t, l.Snapshot()[0].Completed)
}

func TestToRecord(t *testing.T) {
	e := Entry{
		ID:               "0b6f4f4c-5f1e-4d44-a4a3-6f1c8d8e9c10",
		Name:             ArchiveName,
		Archive:          true,
		BytesTransferred: 7,
		TotalBytes:       9,
		Completed:        false,
		Canceled:         true,
	}

	r := toRecord(e)
	assert.Equal(t, e.ID, r.ID)
	assert.Equal(t, e.Name, r.Name)
	assert.True(t, r.Archive)
	assert.EqualValues(t, 7, r.BytesTransferred)
	assert.False(t, r.Completed)
}

func TestEntryFields(t *testing.T) {
	fields := entryFields(Entry{Name: "a.txt", Completed: true, BytesTransferred: 3})
	assert.Equal(t, "a.txt", fields["name"])
	assert.Equal(t, "true", fields["completed"])
	assert.Equal(t, "false", fields["archive"])
	assert.EqualValues(t, 3, fields["bytes_transferred"])

	assert.Equal(t, "sb:de:abc", getKey(KeyEntry, "abc"))
}

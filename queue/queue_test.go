package queue

import (
	"testing"

	"github.com/ppuc/go-zedmd/wire"
)

func TestEnqueuePopOrder(t *testing.T) {
	q := New()
	q.Enqueue(Frame{Command: wire.ClearScreen, StreamID: -1}, false)
	q.Enqueue(Frame{Command: wire.Brightness, Data: []byte{5}, StreamID: -1}, false)

	f, ok := q.Pop()
	if !ok || f.Command != wire.ClearScreen {
		t.Fatalf("first pop = %+v, %v, want ClearScreen", f, ok)
	}
	f, ok = q.Pop()
	if !ok || f.Command != wire.Brightness {
		t.Fatalf("second pop = %+v, %v, want Brightness", f, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("pop on empty queue returned ok")
	}
}

func TestEnqueueSameStreamIDIsOneGeneration(t *testing.T) {
	q := New()
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{0}, StreamID: 3}, false)
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{1}, StreamID: 3}, false)
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{2}, StreamID: 3}, false)

	if got := q.frameCounter; got != 1 {
		t.Fatalf("frameCounter = %d, want 1 (single generation)", got)
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
}

func TestStandaloneDelayedReplacesPending(t *testing.T) {
	q := New()
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{0}, StreamID: 1}, true)
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{1}, StreamID: 1}, true)
	if len(q.d) != 2 {
		t.Fatalf("staged delayed frames = %d, want 2", len(q.d))
	}

	q.Enqueue(Frame{Command: wire.ClearScreen, StreamID: -1}, true)
	if len(q.d) != 1 || q.d[0].Command != wire.ClearScreen {
		t.Fatalf("standalone delayed frame did not replace pending zone generation: %+v", q.d)
	}
	if !q.delayedReady {
		t.Fatalf("delayedReady not set after standalone delayed enqueue")
	}
}

func TestDrainToMainOnEmptyMainQueue(t *testing.T) {
	q := New()
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{0}, StreamID: 5}, true)
	q.delayedReady = true

	f, ok := q.Pop()
	if !ok {
		t.Fatalf("pop after drain-to-main returned !ok")
	}
	if f.Command != wire.RGB24ZonesStream || f.StreamID != 5 {
		t.Fatalf("pop = %+v, want the drained delayed frame", f)
	}
	if q.delayedReady {
		t.Fatalf("delayedReady still true after drain")
	}
	if len(q.d) != 0 {
		t.Fatalf("D not emptied after drain, len=%d", len(q.d))
	}
}

func TestDropAllOnOverflow(t *testing.T) {
	q := New()
	for i := 0; i < wire.QueueMaxGenerations+2; i++ {
		q.Enqueue(Frame{Command: wire.RGB24ZonesStream, Data: []byte{byte(i)}, StreamID: int8(i)}, false)
	}
	q.Enqueue(Frame{Command: wire.ClearScreen, StreamID: -1}, true)
	q.delayedReady = true

	if !q.FillDelayed() {
		t.Fatalf("FillDelayed false with frameCounter past threshold")
	}

	f, ok := q.Pop()
	if !ok {
		t.Fatalf("pop returned !ok after drop-all")
	}
	if f.Command != wire.ClearScreen {
		t.Fatalf("pop = %+v, want the delayed generation to have been swapped in", f)
	}
}

func TestDropAllResetsState(t *testing.T) {
	q := New()
	q.Enqueue(Frame{Command: wire.ClearScreen, StreamID: -1}, false)
	q.Enqueue(Frame{Command: wire.RGB24ZonesStream, StreamID: 2}, true)

	q.DropAll()

	if q.Len() != 0 {
		t.Fatalf("Len = %d after DropAll, want 0", q.Len())
	}
	if q.delayedReady || q.frameCounter != 0 || q.lastStreamID != -1 || q.workerStreamID != -1 {
		t.Fatalf("DropAll left dirty state: %+v", q)
	}
}

func TestIsCommandSized(t *testing.T) {
	small := Frame{Data: make([]byte, wire.FrameSizeCommandLimit-1)}
	large := Frame{Data: make([]byte, wire.FrameSizeCommandLimit)}
	if !small.IsCommandSized() {
		t.Fatalf("small frame not reported command-sized")
	}
	if large.IsCommandSized() {
		t.Fatalf("large frame reported command-sized")
	}
}

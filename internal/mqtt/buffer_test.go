package mqtt

import (
	"fmt"
	"testing"
)

func eventMsg(i int) bufferedMsg {
	return bufferedMsg{
		topic:   "solenoids/bench/events",
		payload: []byte(fmt.Sprintf(`{"solenoid":{"port":%d}}`, i)),
		qos:     1,
	}
}

func TestRingBufferReplayOrder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   int
		first    int // index of the oldest message expected back
	}{
		{"empty", 4, 0, 0},
		{"partial", 4, 3, 0},
		{"exactly full", 4, 4, 0},
		{"wrapped once", 4, 6, 2},
		{"wrapped twice", 3, 8, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := newRingBuffer(tt.capacity)
			for i := 0; i < tt.pushed; i++ {
				rb.push(eventMsg(i))
			}

			want := tt.pushed - tt.first
			if rb.len() != want {
				t.Fatalf("len: got %d, want %d", rb.len(), want)
			}

			got := rb.drainAll()
			if want == 0 {
				if got != nil {
					t.Fatalf("expected nil drain, got %d messages", len(got))
				}
				return
			}
			if len(got) != want {
				t.Fatalf("drained %d messages, want %d", len(got), want)
			}
			for i, msg := range got {
				if exp := eventMsg(tt.first + i); string(msg.payload) != string(exp.payload) {
					t.Errorf("message %d: got %s, want %s", i, msg.payload, exp.payload)
				}
			}
			if rb.len() != 0 || rb.drainAll() != nil {
				t.Error("buffer not empty after drain")
			}
		})
	}
}

func TestRingBufferReuseAfterDrain(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.push(eventMsg(i))
	}
	rb.drainAll()

	rb.push(eventMsg(10))
	rb.push(eventMsg(11))
	got := rb.drainAll()
	if len(got) != 2 || string(got[0].payload) != string(eventMsg(10).payload) {
		t.Errorf("got %d messages after reuse, first %q", len(got), got[0].payload)
	}
}

func TestRingBufferKeepsPublishOptions(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(bufferedMsg{
		topic:    "solenoids/bench/system",
		payload:  []byte(`{"status":{"event":"STARTUP"}}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	m := got[0]
	if m.topic != "solenoids/bench/system" || m.qos != 1 || !m.retained {
		t.Errorf("got topic %q qos %d retained %v", m.topic, m.qos, m.retained)
	}
	if string(m.payload) != `{"status":{"event":"STARTUP"}}` {
		t.Errorf("payload: got %s", m.payload)
	}
}

func TestRingBufferReportsFirstDrop(t *testing.T) {
	rb := newRingBuffer(2)
	if rb.push(eventMsg(0)) || rb.push(eventMsg(1)) {
		t.Fatal("no drop expected below capacity")
	}
	if !rb.push(eventMsg(2)) {
		t.Error("expected first drop to be reported")
	}
	if rb.push(eventMsg(3)) {
		t.Error("expected later drops to be silent")
	}

	rb.drainAll()
	rb.push(eventMsg(4))
	rb.push(eventMsg(5))
	if !rb.push(eventMsg(6)) {
		t.Error("expected drop to be reported again after drain")
	}
}

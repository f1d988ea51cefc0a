package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/actuallyakshat/realtime-todos/internal/coalesce"
	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
)

var (
	_ connection.Observer = (*Metrics)(nil)
	_ coalesce.Observer   = (*Metrics)(nil)
	_ reconcile.Observer  = (*Metrics)(nil)
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(WithRegistry(reg)), reg
}

func TestObserveFrame(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveFrame("todos_updated", dispatch.OutcomeRouted)
	m.ObserveFrame("todos_updated", dispatch.OutcomeRouted)
	m.ObserveFrame("", dispatch.OutcomeDecodeError)
	m.ObserveFrame("mystery", dispatch.OutcomeUnknown)

	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("todos_updated", dispatch.OutcomeRouted)); got != 2 {
		t.Errorf("routed todos_updated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("none", dispatch.OutcomeDecodeError)); got != 1 {
		t.Errorf("decode_error frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.frameDecodeErrors); got != 1 {
		t.Errorf("frame_decode_errors_total = %v, want 1", got)
	}
}

func TestObserveState(t *testing.T) {
	m, _ := newTestMetrics(t)

	if got := testutil.ToFloat64(m.connectionState.WithLabelValues(string(connection.StateAbsent))); got != 1 {
		t.Errorf("initial absent = %v, want 1", got)
	}

	m.ObserveState(connection.StateOpen)
	for _, s := range connection.States {
		want := 0.0
		if s == connection.StateOpen {
			want = 1
		}
		if got := testutil.ToFloat64(m.connectionState.WithLabelValues(string(s))); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestCountersAndGauge(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveReconnectAttempt()
	m.ObserveReconnectAttempt()
	m.ObserveWrite(coalesce.ChannelReorder, coalesce.OutcomeOK)
	m.ObserveWrite(coalesce.ChannelToggle, coalesce.OutcomeFailed)
	m.ObserveBroadcast("todos_updated", reconcile.OutcomeSuppressed)
	m.SetPending(3)

	if got := testutil.ToFloat64(m.reconnectAttempts); got != 2 {
		t.Errorf("reconnect_attempts_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.writesTotal.WithLabelValues(coalesce.ChannelToggle, coalesce.OutcomeFailed)); got != 1 {
		t.Errorf("failed toggles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.broadcastsTotal.WithLabelValues("todos_updated", reconcile.OutcomeSuppressed)); got != 1 {
		t.Errorf("suppressed broadcasts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pendingWrites); got != 3 {
		t.Errorf("pending_writes = %v, want 3", got)
	}

	m.SetPending(0)
	if got := testutil.ToFloat64(m.pendingWrites); got != 0 {
		t.Errorf("pending_writes = %v, want 0", got)
	}
}

func TestRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"), WithConstLabels(prometheus.Labels{"identity": "alice"}))
	m.ObserveReconnectAttempt()
	m.ObserveWrite(coalesce.ChannelReorder, coalesce.OutcomeOK)
	m.ObserveBroadcast("user_left", reconcile.OutcomeApplied)
	m.ObserveFrame("user_left", dispatch.OutcomeRouted)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
		for _, metric := range f.GetMetric() {
			found := false
			for _, l := range metric.GetLabel() {
				if l.GetName() == "identity" && l.GetValue() == "alice" {
					found = true
				}
			}
			if !found {
				t.Errorf("%s missing const label", f.GetName())
			}
		}
	}
	for _, want := range []string{
		"test_frames_received_total",
		"test_frame_decode_errors_total",
		"test_reconnect_attempts_total",
		"test_connection_state",
		"test_pending_writes",
		"test_writes_total",
		"test_broadcasts_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}

	// A second registration on the same registry panics.
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	New(WithRegistry(reg), WithNamespace("test"))
}

package hooks

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/basket/punchd/internal/ledger"
)

type fakeRecorder struct {
	events []ledger.Event
	hashes map[string]bool
	err    error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{hashes: make(map[string]bool)}
}

func (f *fakeRecorder) Append(_ context.Context, ev ledger.Event) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.hashes[ev.SourceHash] {
		return false, nil
	}
	f.hashes[ev.SourceHash] = true
	f.events = append(f.events, ev)
	return true, nil
}

func (f *fakeRecorder) byType(et ledger.EventType) []ledger.Event {
	var out []ledger.Event
	for _, ev := range f.events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSink struct {
	commands []string
	statuses []string
	err      error
}

func (f *fakeSink) HandleCommand(_ context.Context, command, exitStatus string) error {
	f.commands = append(f.commands, command)
	f.statuses = append(f.statuses, exitStatus)
	return f.err
}

func prePayload(inv, command string) Payload {
	return Payload{Event: EventPreCommand, InvocationID: inv, TaskID: "tsk-1", Command: command, TimestampMS: 1000}
}

func postPayload(inv, command, exit string) Payload {
	return Payload{Event: EventPostCommand, InvocationID: inv, TaskID: "tsk-1", Command: command, ExitStatus: exit, TimestampMS: 3500}
}

func TestHandlePairRecordsCommandExec(t *testing.T) {
	rec := newFakeRecorder()
	sink := &fakeSink{}
	h := NewHandler(rec, sink, nil)
	ctx := context.Background()

	if err := h.Handle(ctx, prePayload("inv-1", "ls -la")); err != nil {
		t.Fatalf("pre: %v", err)
	}
	if h.corr.Len() != 1 {
		t.Fatalf("pending = %d, want 1", h.corr.Len())
	}
	if err := h.Handle(ctx, postPayload("inv-1", "ls -la", "0")); err != nil {
		t.Fatalf("post: %v", err)
	}
	if h.corr.Len() != 0 {
		t.Fatal("correlator entry not deleted on completion")
	}

	execs := rec.byType(ledger.EventCommandExec)
	if len(execs) != 1 {
		t.Fatalf("command_exec punches = %d, want 1", len(execs))
	}
	if execs[0].Key != "ls -la" || execs[0].TaskID != "tsk-1" {
		t.Fatalf("punch = %+v", execs[0])
	}
	if !execs[0].ObservedAt.Equal(time.UnixMilli(3500).UTC()) {
		t.Fatalf("observed_at = %v", execs[0].ObservedAt)
	}
	if len(sink.commands) != 1 || sink.commands[0] != "ls -la" || sink.statuses[0] != "0" {
		t.Fatalf("sink = %v %v", sink.commands, sink.statuses)
	}
}

func TestHandlePostIsIdempotentPerInvocation(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHandler(rec, nil, nil)
	ctx := context.Background()

	p := postPayload("inv-9", "make test", "0")
	for i := 0; i < 3; i++ {
		if err := h.Handle(ctx, p); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	if got := len(rec.byType(ledger.EventCommandExec)); got != 1 {
		t.Fatalf("command_exec punches = %d, want 1 after replay", got)
	}
}

func TestHandleLifecyclePunches(t *testing.T) {
	cases := []struct {
		name    string
		command string
		want    []string
	}{
		{"commit", `git commit -m "wip"`, []string{"commit"}},
		{"push", "git push origin main", []string{"push"}},
		{"commit then push", "git commit -m x && git push", []string{"commit", "push"}},
		{"other git", "git status", nil},
		{"non git", "go test ./...", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newFakeRecorder()
			h := NewHandler(rec, nil, nil)
			if err := h.Handle(context.Background(), postPayload("inv-1", tc.command, "0")); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			var keys []string
			for _, ev := range rec.byType(ledger.EventSessionLifecycle) {
				keys = append(keys, ev.Key)
			}
			if !reflect.DeepEqual(keys, tc.want) {
				t.Fatalf("lifecycle keys = %v, want %v", keys, tc.want)
			}
		})
	}
}

func TestHandleSinkFailureIsIsolated(t *testing.T) {
	rec := newFakeRecorder()
	sink := &fakeSink{err: errors.New("routes unavailable")}
	h := NewHandler(rec, sink, nil)

	if err := h.Handle(context.Background(), postPayload("inv-1", "bd close tsk-7", "0")); err != nil {
		t.Fatalf("sink failure surfaced: %v", err)
	}
	if got := len(rec.byType(ledger.EventCommandExec)); got != 1 {
		t.Fatalf("command_exec punches = %d, want 1", got)
	}
}

func TestHandleRecorderFailureAborts(t *testing.T) {
	rec := newFakeRecorder()
	rec.err = errors.New("connection refused")
	h := NewHandler(rec, nil, nil)
	if err := h.Handle(context.Background(), postPayload("inv-1", "ls", "0")); err == nil {
		t.Fatal("recorder failure swallowed")
	}
}

func TestHandleRejectsMalformedPayloads(t *testing.T) {
	h := NewHandler(newFakeRecorder(), nil, nil)
	ctx := context.Background()
	cases := []struct {
		name string
		p    Payload
	}{
		{"missing task", Payload{Event: EventPreCommand, Command: "ls"}},
		{"missing command", Payload{Event: EventPostCommand, TaskID: "tsk-1"}},
		{"unknown event", Payload{Event: "mid_command", TaskID: "tsk-1", Command: "ls"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.Handle(ctx, tc.p)
			if err == nil {
				t.Fatal("malformed payload accepted")
			}
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestRunSkipsInvalidPayloads(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHandler(rec, nil, nil)
	// The middle payload fails validation; its siblings must still land.
	stream := `
		{"event":"post_command","invocation_id":"a","task_id":"tsk-1","command":"ls","exit_status":"0","ts":1000}
		{"event":"post_command","invocation_id":"b","command":"rm -rf /tmp/x","exit_status":"0","ts":2000}
		{"event":"post_command","invocation_id":"c","task_id":"tsk-1","command":"make","exit_status":"0","ts":3000}
	`
	if err := h.Run(context.Background(), strings.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.byType(ledger.EventCommandExec)); got != 2 {
		t.Fatalf("command_exec punches = %d, want 2 (invalid payload skipped, siblings kept)", got)
	}
}

func TestRunDecodesStream(t *testing.T) {
	rec := newFakeRecorder()
	h := NewHandler(rec, nil, nil)
	stream := `
		{"event":"pre_command","invocation_id":"a","task_id":"tsk-1","command":"ls","ts":1000}
		{"event":"post_command","invocation_id":"a","task_id":"tsk-1","command":"ls","exit_status":"0","ts":1200}
	`
	if err := h.Run(context.Background(), strings.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.byType(ledger.EventCommandExec)); got != 1 {
		t.Fatalf("command_exec punches = %d, want 1", got)
	}
	if h.corr.Len() != 0 {
		t.Fatal("pending entry leaked past stream end")
	}
}

func TestRunRejectsGarbage(t *testing.T) {
	h := NewHandler(newFakeRecorder(), nil, nil)
	if err := h.Run(context.Background(), strings.NewReader("not json")); err == nil {
		t.Fatal("garbage stream accepted")
	}
}

func TestCorrelatorEvictsOrphans(t *testing.T) {
	c := NewCorrelator()
	c.maxAge = time.Minute

	c.Begin("orphan", "tsk-1", "sleep 9999", time.Now().Add(-2*time.Minute))
	c.Begin("fresh", "tsk-1", "ls", time.Now())
	if c.Len() != 1 {
		t.Fatalf("pending = %d, want 1 (orphan evicted by age)", c.Len())
	}
	if _, ok := c.Complete("orphan"); ok {
		t.Fatal("evicted orphan still completable")
	}
	if _, ok := c.Complete("fresh"); !ok {
		t.Fatal("fresh entry lost")
	}
}

func TestLifecycleKinds(t *testing.T) {
	got := lifecycleKinds("git -c core.editor=true commit --amend; git push --force-with-lease")
	want := []string{"commit", "push"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

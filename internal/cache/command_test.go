package cache

import (
	"context"
	"strings"
	"testing"
)

func newCommanderForTest(t *testing.T) (*Commander, *Gateway, func()) {
	t.Helper()
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	if err := gw.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	return NewCommander(gw), gw, upstream.Close
}

func TestDispatchGetVersion(t *testing.T) {
	c, _, done := newCommanderForTest(t)
	defer done()

	reply, err := c.Dispatch(context.Background(), Command{Kind: CommandGetVersion})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !reply.Success {
		t.Error("expected success reply")
	}
	if reply.Version != "fishnet-v1" {
		t.Errorf("expected version fishnet-v1, got %q", reply.Version)
	}
	if reply.Timestamp.IsZero() {
		t.Error("expected a reply timestamp")
	}
}

func TestDispatchSkipWaitingActivates(t *testing.T) {
	c, gw, done := newCommanderForTest(t)
	defer done()

	if gw.Active() {
		t.Fatal("gateway must not be active before skip_waiting")
	}

	reply, err := c.Dispatch(context.Background(), Command{Kind: CommandSkipWaiting})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !reply.Success || !gw.Active() {
		t.Error("expected skip_waiting to activate the gateway")
	}
}

func TestDispatchClearCache(t *testing.T) {
	c, gw, done := newCommanderForTest(t)
	defer done()

	if _, err := c.Dispatch(context.Background(), Command{Kind: CommandClearCache}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	names, err := gw.buckets.Buckets(context.Background())
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected every bucket purged, got %v", names)
	}
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	c, _, done := newCommanderForTest(t)
	defer done()

	_, err := c.Dispatch(context.Background(), Command{Kind: "reload"})
	if err == nil {
		t.Fatal("expected unknown command rejected")
	}
	if !strings.Contains(err.Error(), "unknown cache command") {
		t.Errorf("expected explicit rejection, got %v", err)
	}
}

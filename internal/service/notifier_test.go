package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sns-system/pkg/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubCounter struct {
	count int64
	err   error
}

func (c stubCounter) CountUnread(context.Context, uint) (int64, error) {
	return c.count, c.err
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := logger.ReplaceLogger(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestNotifierSwallowsDeliveryFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		counter  stubCounter
		presence func() *fakePresence
		pusher   *fakePusher
		timeout  time.Duration
		wantLog  string
	}{
		{
			name:     "push error",
			counter:  stubCounter{count: 3},
			presence: func() *fakePresence { p := newFakePresence(); p.conns[1] = "c1"; return p },
			pusher:   &fakePusher{err: boom},
			wantLog:  "boom",
		},
		{
			name:     "presence error",
			counter:  stubCounter{count: 3},
			presence: func() *fakePresence { p := newFakePresence(); p.err = boom; return p },
			pusher:   &fakePusher{},
			wantLog:  "presence lookup",
		},
		{
			name:     "count error",
			counter:  stubCounter{err: boom},
			presence: newFakePresence,
			pusher:   &fakePusher{},
			wantLog:  "count unread",
		},
		{
			name:     "push timeout",
			counter:  stubCounter{count: 1},
			presence: func() *fakePresence { p := newFakePresence(); p.conns[1] = "c1"; return p },
			pusher:   &fakePusher{block: true},
			timeout:  50 * time.Millisecond,
			wantLog:  context.DeadlineExceeded.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeLogs(t)
			n := NewNotifier(tt.counter, tt.presence(), tt.pusher, nil, tt.timeout)

			start := time.Now()
			n.Notify(context.Background(), 1)
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("Notify blocked for %v", elapsed)
			}

			warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
			if len(warns) != 1 {
				t.Fatalf("got %d warnings, want 1", len(warns))
			}
			msg, _ := warns[0].ContextMap()["error"].(string)
			if !strings.Contains(msg, ErrDeliveryFailure.Error()) || !strings.Contains(msg, tt.wantLog) {
				t.Errorf("logged error = %q, want %q wrapped as delivery failure", msg, tt.wantLog)
			}
		})
	}
}

func TestNotifierOfflineUser(t *testing.T) {
	logs := observeLogs(t)
	pusher := &fakePusher{}
	n := NewNotifier(stubCounter{count: 2}, newFakePresence(), pusher, nil, time.Second)

	n.Notify(context.Background(), 7)

	if got := len(pusher.all()); got != 0 {
		t.Errorf("pushed %d events to offline user", got)
	}
	if got := logs.FilterLevelExact(zapcore.WarnLevel).Len(); got != 0 {
		t.Errorf("offline user logged %d warnings", got)
	}
}

func TestNotifierPushesCount(t *testing.T) {
	presence := newFakePresence()
	presence.conns[7] = "c7"
	pusher := &fakePusher{}
	cache := newFakeCache()
	cache.counts[7] = 99
	n := NewNotifier(stubCounter{count: 2}, presence, pusher, cache, time.Second)

	n.Notify(context.Background(), 7)

	ev, ok := pusher.last("c7")
	if !ok || ev.Event != EventUnreadNotifications || ev.Count != 2 {
		t.Errorf("pushed %+v, %v", ev, ok)
	}
	if _, cached, _ := cache.Get(context.Background(), 7); cached {
		t.Error("stale cached count should be invalidated")
	}
}

func TestNotifierIgnoresCancelledCaller(t *testing.T) {
	presence := newFakePresence()
	presence.conns[7] = "c7"
	pusher := &fakePusher{}
	n := NewNotifier(stubCounter{count: 1}, presence, pusher, nil, time.Second)

	// 请求结束后推送仍然完成
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(cctx, 7)

	if _, ok := pusher.last("c7"); !ok {
		t.Error("push should not depend on caller cancellation")
	}
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	n.Notify(context.Background(), 1)
}

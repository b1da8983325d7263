package service

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"sns-system/internal/model"
)

func TestSendRequestErrors(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 4)
	a, b, c, gone := ids[0], ids[1], ids[2], ids[3]

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := f.friends.SendRequest(ctx, c, a); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := f.friends.AcceptRequest(ctx, a, c); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if err := f.users.SoftDelete(ctx, gone); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	tests := []struct {
		name     string
		from, to uint
		want     error
	}{
		{name: "self", from: a, to: a, want: ErrInvalidOperation},
		{name: "missing target", from: a, to: 9999, want: ErrNotFound},
		{name: "deleted target", from: a, to: gone, want: ErrNotFound},
		{name: "duplicate request", from: a, to: b, want: ErrConflict},
		{name: "reverse pending request", from: b, to: a, want: ErrConflict},
		{name: "already friends", from: c, to: a, want: ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErr(t, f.friends.SendRequest(ctx, tt.from, tt.to), tt.want)
		})
	}

	// 失败的请求不产生额外通知
	if got := f.unread(t, b); got != 1 {
		t.Errorf("unread(b) = %d, want 1", got)
	}
}

func TestSendAndAcceptRequest(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 2)
	a, b := ids[0], ids[1]
	_ = f.presence.Register(ctx, a, "conn-a")
	_ = f.presence.Register(ctx, b, "conn-b")

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	if got := f.unread(t, b); got != 1 {
		t.Fatalf("unread(b) = %d, want 1", got)
	}
	received := f.find(t, requestKey(b, model.NotificationRequestReceived))
	if received == nil {
		t.Fatal("request received notification missing")
	}
	if !sameIDs(received.From(), []uint{a}) {
		t.Fatalf("from = %v, want [%d]", received.From(), a)
	}
	if ev, ok := f.pusher.last("conn-b"); !ok || ev.Count != 1 || ev.Event != EventUnreadNotifications {
		t.Fatalf("push to b = %+v, %v", ev, ok)
	}
	if got := f.relation(t, a, b); got != RelationSent {
		t.Errorf("relation(a,b) = %s, want sent", got)
	}
	if got := f.relation(t, b, a); got != RelationReceived {
		t.Errorf("relation(b,a) = %s, want received", got)
	}

	if err := f.friends.AcceptRequest(ctx, b, a); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}

	// 对方收到“已接受”
	if got := f.unread(t, a); got != 1 {
		t.Fatalf("unread(a) = %d, want 1", got)
	}
	accepted := f.find(t, requestKey(a, model.NotificationRequestAccepted))
	if accepted == nil || !sameIDs(accepted.From(), []uint{b}) {
		t.Fatalf("request accepted notification to a = %+v", accepted)
	}
	if ev, ok := f.pusher.last("conn-a"); !ok || ev.Count != 1 {
		t.Fatalf("push to a = %+v, %v", ev, ok)
	}

	// 原通知原地变为“已接受”
	if f.find(t, requestKey(b, model.NotificationRequestReceived)) != nil {
		t.Fatal("request received notification should be transitioned")
	}
	flipped := f.find(t, requestKey(b, model.NotificationRequestAccepted))
	if flipped == nil {
		t.Fatal("transitioned notification missing")
	}
	if flipped.ID != received.ID {
		t.Errorf("transitioned id = %d, want %d", flipped.ID, received.ID)
	}
	if !sameIDs(flipped.From(), []uint{a}) {
		t.Errorf("transitioned from = %v, want [%d]", flipped.From(), a)
	}

	if got := f.relation(t, a, b); got != RelationFriends {
		t.Errorf("relation(a,b) = %s, want friends", got)
	}
	if got := f.relation(t, b, a); got != RelationFriends {
		t.Errorf("relation(b,a) = %s, want friends", got)
	}
}

func TestAcceptRequestMergesIntoExistingAccepted(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 3)
	a, b, c := ids[0], ids[1], ids[2]

	// a 已有来自 c 的“已接受”，随后接受 b 的请求时应合并而不是冲突
	if err := f.friends.SendRequest(ctx, a, c); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := f.friends.AcceptRequest(ctx, c, a); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}
	if err := f.friends.SendRequest(ctx, b, a); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := f.friends.AcceptRequest(ctx, a, b); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}

	accepted := f.find(t, requestKey(a, model.NotificationRequestAccepted))
	if accepted == nil || !sameIDs(accepted.From(), []uint{b, c}) {
		t.Fatalf("accepted to a = %+v, want from b and c", accepted)
	}
	if f.find(t, requestKey(a, model.NotificationRequestReceived)) != nil {
		t.Error("request received to a should be gone")
	}
}

func TestAcceptRequestErrors(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}
	if err := f.friends.SendRequest(ctx, c, a); err != nil {
		t.Fatal(err)
	}
	if err := f.friends.AcceptRequest(ctx, a, c); err != nil {
		t.Fatal(err)
	}
	if err := f.friends.SendRequest(ctx, d, a); err != nil {
		t.Fatal(err)
	}
	if err := f.users.SoftDelete(ctx, d); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name                string
		accepter, requester uint
		want                error
	}{
		{name: "self", accepter: a, requester: a, want: ErrInvalidOperation},
		{name: "no request", accepter: b, requester: c, want: ErrNotFound},
		{name: "own outgoing request", accepter: a, requester: b, want: ErrNotFound},
		{name: "already friends", accepter: a, requester: c, want: ErrConflict},
		{name: "requester deleted", accepter: a, requester: d, want: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErr(t, f.friends.AcceptRequest(ctx, tt.accepter, tt.requester), tt.want)
		})
	}

	if got := f.relation(t, a, b); got != RelationSent {
		t.Errorf("relation(a,b) = %s, want sent", got)
	}
}

func TestCancelRequestTwice(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 2)
	a, b := ids[0], ids[1]

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}

	wantErr(t, f.friends.CancelRequest(ctx, a, b), nil)
	wantErr(t, f.friends.CancelRequest(ctx, a, b), ErrNotFound)

	if got := f.unread(t, b); got != 0 {
		t.Errorf("unread(b) = %d, want 0", got)
	}
	if f.find(t, requestKey(b, model.NotificationRequestReceived)) != nil {
		t.Error("request received notification should be deleted")
	}
	if got := f.relation(t, a, b); got != RelationNone {
		t.Errorf("relation = %s, want none", got)
	}
	// 撤回后可以重新发送
	wantErr(t, f.friends.SendRequest(ctx, a, b), nil)
}

func TestCancelRequestOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 2)
	a, b := ids[0], ids[1]

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}
	wantErr(t, f.friends.CancelRequest(ctx, b, a), ErrNotFound)
	wantErr(t, f.friends.CancelRequest(ctx, a, a), ErrInvalidOperation)

	if got := f.relation(t, a, b); got != RelationSent {
		t.Errorf("relation = %s, want sent", got)
	}
}

func TestRejectRequest(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 3)
	a, b, c := ids[0], ids[1], ids[2]

	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}
	if err := f.friends.SendRequest(ctx, c, b); err != nil {
		t.Fatal(err)
	}

	wantErr(t, f.friends.RejectRequest(ctx, b, a), nil)
	wantErr(t, f.friends.RejectRequest(ctx, b, a), ErrNotFound)

	// c 的请求仍在同一条通知里
	received := f.find(t, requestKey(b, model.NotificationRequestReceived))
	if received == nil || !sameIDs(received.From(), []uint{c}) {
		t.Fatalf("request received to b = %+v, want from c only", received)
	}
	if got := f.unread(t, a); got != 0 {
		t.Errorf("unread(a) = %d, want 0 (reject creates no notification)", got)
	}
	if got := f.relation(t, a, b); got != RelationNone {
		t.Errorf("relation = %s, want none", got)
	}

	wantErr(t, f.friends.RejectRequest(ctx, b, c), nil)
	if f.find(t, requestKey(b, model.NotificationRequestReceived)) != nil {
		t.Error("empty request notification should be deleted")
	}
}

func TestUnfriend(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 2)
	a, b := ids[0], ids[1]

	wantErr(t, f.friends.Unfriend(ctx, a, b), ErrNotFound)
	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}
	// 待处理请求不是好友关系
	wantErr(t, f.friends.Unfriend(ctx, a, b), ErrNotFound)
	if err := f.friends.AcceptRequest(ctx, b, a); err != nil {
		t.Fatal(err)
	}

	wantErr(t, f.friends.Unfriend(ctx, b, a), nil)
	wantErr(t, f.friends.Unfriend(ctx, a, b), ErrNotFound)
	wantErr(t, f.friends.Unfriend(ctx, a, a), ErrInvalidOperation)

	if got := f.relation(t, a, b); got != RelationNone {
		t.Errorf("relation = %s, want none", got)
	}
	for _, uid := range []uint{a, b} {
		if f.find(t, requestKey(uid, model.NotificationRequestAccepted)) != nil {
			t.Errorf("request accepted notification to %d should be retracted", uid)
		}
		if got := f.unread(t, uid); got != 0 {
			t.Errorf("unread(%d) = %d, want 0", uid, got)
		}
	}
}

func TestFriendLists(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	for _, step := range []func() error{
		func() error { return f.friends.SendRequest(ctx, a, b) },
		func() error { return f.friends.AcceptRequest(ctx, b, a) },
		func() error { return f.friends.SendRequest(ctx, a, c) },
		func() error { return f.friends.SendRequest(ctx, d, a) },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}

	userIDs := func(users []model.User) []uint {
		out := make([]uint, 0, len(users))
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	friends, err := f.friends.Friends(ctx, a)
	if err != nil || !sameIDs(userIDs(friends), []uint{b}) {
		t.Errorf("Friends(a) = %v, %v", userIDs(friends), err)
	}
	sent, err := f.friends.SentRequests(ctx, a)
	if err != nil || !sameIDs(userIDs(sent), []uint{c}) {
		t.Errorf("SentRequests(a) = %v, %v", userIDs(sent), err)
	}
	received, err := f.friends.ReceivedRequests(ctx, a)
	if err != nil || !sameIDs(userIDs(received), []uint{d}) {
		t.Errorf("ReceivedRequests(a) = %v, %v", userIDs(received), err)
	}
	friendsOfB, err := f.friends.Friends(ctx, b)
	if err != nil || !sameIDs(userIDs(friendsOfB), []uint{a}) {
		t.Errorf("Friends(b) = %v, %v", userIDs(friendsOfB), err)
	}
}

// runConcurrently 并发执行 op，返回成功次数与失败错误
func runConcurrently(workers int, op func() error) (int, []error) {
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- op()
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	var failed []error
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		failed = append(failed, err)
	}
	return ok, failed
}

// 同一对用户上的重复并发迁移只有一次生效
func TestConcurrentTransitions(t *testing.T) {
	const workers = 8

	tests := []struct {
		name    string
		setup   func(f *fixture, a, b uint) error
		op      func(f *fixture, a, b uint) error
		wantErr error
		check   func(t *testing.T, f *fixture, a, b uint)
	}{
		{
			name:    "send",
			op:      func(f *fixture, a, b uint) error { return f.friends.SendRequest(ctx, a, b) },
			wantErr: ErrConflict,
			check: func(t *testing.T, f *fixture, a, b uint) {
				n := f.find(t, requestKey(b, model.NotificationRequestReceived))
				if n == nil || !sameIDs(n.From(), []uint{a}) {
					t.Errorf("request received = %+v", n)
				}
				if got := f.relation(t, a, b); got != RelationSent {
					t.Errorf("relation = %s, want sent", got)
				}
			},
		},
		{
			name:    "cancel",
			setup:   func(f *fixture, a, b uint) error { return f.friends.SendRequest(ctx, a, b) },
			op:      func(f *fixture, a, b uint) error { return f.friends.CancelRequest(ctx, a, b) },
			wantErr: ErrNotFound,
			check: func(t *testing.T, f *fixture, a, b uint) {
				if got := f.relation(t, a, b); got != RelationNone {
					t.Errorf("relation = %s, want none", got)
				}
			},
		},
		{
			name:    "accept",
			setup:   func(f *fixture, a, b uint) error { return f.friends.SendRequest(ctx, a, b) },
			op:      func(f *fixture, a, b uint) error { return f.friends.AcceptRequest(ctx, b, a) },
			wantErr: ErrConflict,
			check: func(t *testing.T, f *fixture, a, b uint) {
				toRequester := f.find(t, requestKey(a, model.NotificationRequestAccepted))
				if toRequester == nil || !sameIDs(toRequester.From(), []uint{b}) {
					t.Errorf("requester's request accepted = %+v", toRequester)
				}
				toAccepter := f.find(t, requestKey(b, model.NotificationRequestAccepted))
				if toAccepter == nil || !sameIDs(toAccepter.From(), []uint{a}) {
					t.Errorf("accepter's request accepted = %+v", toAccepter)
				}
				if got := f.relation(t, a, b); got != RelationFriends {
					t.Errorf("relation = %s, want friends", got)
				}
			},
		},
		{
			name:    "reject",
			setup:   func(f *fixture, a, b uint) error { return f.friends.SendRequest(ctx, a, b) },
			op:      func(f *fixture, a, b uint) error { return f.friends.RejectRequest(ctx, b, a) },
			wantErr: ErrNotFound,
			check: func(t *testing.T, f *fixture, a, b uint) {
				if n := f.find(t, requestKey(b, model.NotificationRequestReceived)); n != nil {
					t.Errorf("request received should be gone, got %+v", n)
				}
			},
		},
		{
			name: "unfriend",
			setup: func(f *fixture, a, b uint) error {
				if err := f.friends.SendRequest(ctx, a, b); err != nil {
					return err
				}
				return f.friends.AcceptRequest(ctx, b, a)
			},
			op:      func(f *fixture, a, b uint) error { return f.friends.Unfriend(ctx, a, b) },
			wantErr: ErrNotFound,
			check: func(t *testing.T, f *fixture, a, b uint) {
				if got := f.relation(t, b, a); got != RelationNone {
					t.Errorf("relation = %s, want none", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ids := f.createUsers(t, 2)
			a, b := ids[0], ids[1]
			if tt.setup != nil {
				if err := tt.setup(f, a, b); err != nil {
					t.Fatal(err)
				}
			}

			ok, failed := runConcurrently(workers, func() error { return tt.op(f, a, b) })
			if ok != 1 || len(failed) != workers-1 {
				t.Fatalf("success=%d failed=%d, want 1 and %d", ok, len(failed), workers-1)
			}
			for _, err := range failed {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			}
			tt.check(t, f, a, b)
		})
	}
}

func TestConcurrentAcceptAndCancel(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 2)
	a, b := ids[0], ids[1]
	if err := f.friends.SendRequest(ctx, a, b); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var acceptErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		acceptErr = f.friends.AcceptRequest(ctx, b, a)
	}()
	go func() {
		defer wg.Done()
		cancelErr = f.friends.CancelRequest(ctx, a, b)
	}()
	wg.Wait()

	if (acceptErr == nil) == (cancelErr == nil) {
		t.Fatalf("exactly one should succeed: accept=%v cancel=%v", acceptErr, cancelErr)
	}
	state := f.relation(t, a, b)
	if acceptErr == nil {
		wantErr(t, cancelErr, ErrNotFound)
		if state != RelationFriends {
			t.Errorf("relation = %s, want friends", state)
		}
	} else {
		wantErr(t, acceptErr, ErrNotFound)
		if state != RelationNone {
			t.Errorf("relation = %s, want none", state)
		}
	}
}

// 随机操作序列后检查：好友关系对称，且好友与待处理请求互斥
func TestRelationshipInvariants(t *testing.T) {
	f := newFixture(t)
	ids := f.createUsers(t, 5)
	rng := rand.New(rand.NewSource(42))

	ops := []func(x, y uint) error{
		func(x, y uint) error { return f.friends.SendRequest(ctx, x, y) },
		func(x, y uint) error { return f.friends.CancelRequest(ctx, x, y) },
		func(x, y uint) error { return f.friends.AcceptRequest(ctx, x, y) },
		func(x, y uint) error { return f.friends.RejectRequest(ctx, x, y) },
		func(x, y uint) error { return f.friends.Unfriend(ctx, x, y) },
	}

	for step := 0; step < 200; step++ {
		x := ids[rng.Intn(len(ids))]
		y := ids[rng.Intn(len(ids))]
		err := ops[rng.Intn(len(ops))](x, y)
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidOperation) {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}
		checkInvariants(t, f, ids)
	}
}

func checkInvariants(t *testing.T, f *fixture, ids []uint) {
	t.Helper()
	friendsOf := make(map[uint]map[uint]bool)
	pendingOf := make(map[uint]map[uint]bool)
	for _, id := range ids {
		friends, err := f.friends.friendships.FriendIDs(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		sent, err := f.friends.friendships.SentRequestIDs(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		received, err := f.friends.friendships.ReceivedRequestIDs(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		friendsOf[id] = toSet(friends)
		pendingOf[id] = toSet(append(sent, received...))
	}

	for _, x := range ids {
		for _, y := range ids {
			if friendsOf[x][y] != friendsOf[y][x] {
				t.Fatalf("asymmetric friendship between %d and %d", x, y)
			}
			if friendsOf[x][y] && (pendingOf[x][y] || pendingOf[y][x]) {
				t.Fatalf("%d and %d are friends with a pending request", x, y)
			}
		}
	}
}

func toSet(ids []uint) map[uint]bool {
	s := make(map[uint]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

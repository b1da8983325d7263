package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sns-system/config"
	"sns-system/internal/model"
	"sns-system/internal/repository"
	"sns-system/pkg/db"

	"gorm.io/gorm"
)

var ctx = context.Background()

// fakeClock 每次调用前进一秒，保证时间戳严格递增
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakePresence struct {
	mu    sync.Mutex
	conns map[uint]string
	err   error
}

func newFakePresence() *fakePresence {
	return &fakePresence{conns: make(map[uint]string)}
}

func (p *fakePresence) Lookup(_ context.Context, userID uint) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", false, p.err
	}
	c, ok := p.conns[userID]
	return c, ok, nil
}

func (p *fakePresence) Register(_ context.Context, userID uint, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID] = connID
	return nil
}

func (p *fakePresence) Unregister(_ context.Context, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for uid, c := range p.conns {
		if c == connID {
			delete(p.conns, uid)
		}
	}
	return nil
}

func (p *fakePresence) Refresh(_ context.Context, userID uint, connID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[userID]; ok && c != connID {
		return false, nil
	}
	p.conns[userID] = connID
	return true, nil
}

type emitted struct {
	ConnID string
	Event  string
	Count  int64
}

type fakePusher struct {
	mu     sync.Mutex
	events []emitted
	err    error
	block  bool
}

func (p *fakePusher) Emit(ctx context.Context, connID, event string, payload interface{}) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var count int64
	if m, ok := payload.(map[string]interface{}); ok {
		count, _ = m["count"].(int64)
	}
	p.events = append(p.events, emitted{ConnID: connID, Event: event, Count: count})
	return nil
}

func (p *fakePusher) all() []emitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]emitted(nil), p.events...)
}

func (p *fakePusher) last(connID string) (emitted, bool) {
	events := p.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ConnID == connID {
			return events[i], true
		}
	}
	return emitted{}, false
}

type fakeCache struct {
	mu          sync.Mutex
	counts      map[uint]int64
	generations map[uint]int64
	invalidated map[uint]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		counts:      make(map[uint]int64),
		generations: make(map[uint]int64),
		invalidated: make(map[uint]int),
	}
}

func (c *fakeCache) Get(_ context.Context, userID uint) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[userID]
	return n, ok, nil
}

func (c *fakeCache) Generation(_ context.Context, userID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], nil
}

func (c *fakeCache) SetIfUnchanged(_ context.Context, userID uint, count, generation int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userID] != generation {
		return false, nil
	}
	c.counts[userID] = count
	return true, nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	c.generations[userID]++
	c.invalidated[userID]++
	return nil
}

type fixture struct {
	orm           *gorm.DB
	users         *repository.UserRepository
	notifRepo     *repository.NotificationRepository
	notifications *NotificationService
	friends       *FriendService
	presence      *fakePresence
	pusher        *fakePusher
	clock         *fakeClock
}

type fixtureOption func(*config.NotificationConfig)

func withEmptyPolicy(policy string) fixtureOption {
	return func(c *config.NotificationConfig) { c.EmptyPolicy = policy }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	orm, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "sns.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(orm) })

	if err := db.AutoMigrate(orm,
		&model.User{}, &model.Friendship{}, &model.Notification{}, &model.NotificationContributor{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.NotificationConfig{
		EmptyPolicy:     config.EmptyPolicyKeep,
		DefaultPageSize: 20,
		MaxPageSize:     50,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	users := repository.NewUserRepository(orm)
	notifRepo := repository.NewNotificationRepository(orm)
	presence := newFakePresence()
	pusher := &fakePusher{}
	clock := newFakeClock()

	notifier := NewNotifier(notifRepo, presence, pusher, nil, time.Second)
	notifications := NewNotificationService(orm, notifRepo, users, notifier, nil, cfg)
	notifications.now = clock.Now
	friends := NewFriendService(orm, users, repository.NewFriendshipRepository(orm), notifications)
	friends.now = clock.Now

	return &fixture{
		orm:           orm,
		users:         users,
		notifRepo:     notifRepo,
		notifications: notifications,
		friends:       friends,
		presence:      presence,
		pusher:        pusher,
		clock:         clock,
	}
}

// createUsers 创建 n 个用户并返回ID
func (f *fixture) createUsers(t *testing.T, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		u := &model.User{Username: fmt.Sprintf("%s-%d", t.Name(), i)}
		if err := f.users.Create(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func (f *fixture) unread(t *testing.T, userID uint) int64 {
	t.Helper()
	n, err := f.notifications.UnreadCount(ctx, userID)
	if err != nil {
		t.Fatalf("UnreadCount(%d): %v", userID, err)
	}
	return n
}

func (f *fixture) relation(t *testing.T, a, b uint) RelationState {
	t.Helper()
	state, err := f.friends.Relationship(ctx, a, b)
	if err != nil {
		t.Fatalf("Relationship(%d, %d): %v", a, b, err)
	}
	return state
}

// find 按身份键读取通知及贡献者，不存在返回 nil
func (f *fixture) find(t *testing.T, key model.NotificationKey) *model.Notification {
	t.Helper()
	n, err := f.notifRepo.FindByKey(ctx, key)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if n == nil {
		return nil
	}
	full, err := f.notifRepo.GetWithContributors(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetWithContributors: %v", err)
	}
	return full
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if target == nil {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func sameIDs(got, want []uint) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[uint]int, len(got))
	for _, id := range got {
		seen[id]++
	}
	for _, id := range want {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"postline/internal/entity"
	"postline/internal/lifecycle"
	"postline/internal/repo/persistent"
	"postline/internal/usecase"
	"postline/pkg/config"
	"postline/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory PostRepository whose claim and conditional
// write are atomic under a mutex, mirroring the guarantees the SQL
// implementation gets from conditional UPDATEs.
type memStore struct {
	mu    sync.Mutex
	posts map[string]*entity.Post
}

func newMemStore() *memStore {
	return &memStore{posts: make(map[string]*entity.Post)}
}

func (s *memStore) put(post entity.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := post
	s.posts[post.ID] = &copy
}

func (s *memStore) get(id string) entity.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.posts[id]
}

func (s *memStore) Create(post *entity.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.ID == "" {
		post.ID = fmt.Sprintf("post-%d", len(s.posts)+1)
	}
	copy := *post
	s.posts[post.ID] = &copy
	return nil
}

func (s *memStore) GetByID(id string) (*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, persistent.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *memStore) ListByStatus(status entity.PostStatus, limit, offset int) ([]*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Post
	for _, p := range s.posts {
		if p.Status == status {
			copy := *p
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *memStore) FindDue(before time.Time, limit int) ([]*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*entity.Post
	for _, p := range s.posts {
		if p.Status == entity.StatusScheduled && p.ScheduledTime != nil && !p.ScheduledTime.After(before) {
			copy := *p
			due = append(due, &copy)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledTime.Before(*due[j].ScheduledTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) ClaimForPublishing(id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.Status != entity.StatusScheduled {
		return false, nil
	}
	p.Status = entity.StatusPublishing
	attempted := now
	p.ScheduleAttemptedAt = &attempted
	return true, nil
}

func (s *memStore) ApplyTransition(id string, expected entity.PostStatus, post *entity.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.posts[id]
	if !ok {
		return persistent.ErrNotFound
	}
	if current.Status != expected {
		return persistent.ErrStaleState
	}
	copy := *post
	s.posts[id] = &copy
	return nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return persistent.ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

func (s *memStore) ReclaimStale(olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, p := range s.posts {
		if p.Status == entity.StatusPublishing && p.ScheduleAttemptedAt != nil && p.ScheduleAttemptedAt.Before(olderThan) {
			p.Status = entity.StatusFailed
			p.RetryCount++
			p.LastError = "publish attempt abandoned: worker did not resolve the claim"
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

var _ persistent.PostRepository = (*memStore)(nil)

// stubPublisher counts calls per post and returns a fixed outcome.
type stubPublisher struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newStubPublisher(err error) *stubPublisher {
	return &stubPublisher{calls: make(map[string]int), err: err}
}

func (p *stubPublisher) Publish(_ context.Context, post *entity.Post) (string, error) {
	p.mu.Lock()
	p.calls[post.ID]++
	p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return "ext-" + post.ID, nil
}

func (p *stubPublisher) callCount(postID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[postID]
}

func testConfig() *config.Config {
	return &config.Config{
		SchedulerInterval:  10 * time.Millisecond,
		SchedulerBatchSize: 10,
		PublishStaleAfter:  10 * time.Minute,
	}
}

func newTestScheduler(store *memStore, pub *stubPublisher, cfg *config.Config) *Scheduler {
	log := logger.New()
	lc := usecase.NewLifecycleUseCase(store, nil, nil, log)
	return New(store, lc, pub, log, cfg)
}

func scheduledPost(id string, due time.Time) entity.Post {
	return entity.Post{
		ID:            id,
		AuthorID:      "author-1",
		Platform:      "x",
		Content:       "hello",
		Status:        entity.StatusScheduled,
		ApprovedBy:    "alice",
		ScheduledTime: &due,
	}
}

func TestScan_PublishesDuePost(t *testing.T) {
	store := newMemStore()
	store.put(scheduledPost("post-1", time.Now().Add(-time.Minute)))

	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, testConfig())

	s.Scan(context.Background())

	got := store.get("post-1")
	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.Equal(t, "ext-post-1", got.ExternalPostID)
	assert.Nil(t, got.ScheduledTime)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, pub.callCount("post-1"))
}

func TestScan_PublishFailureRecordsRetry(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	store := newMemStore()
	store.put(scheduledPost("post-1", due))

	pub := newStubPublisher(fmt.Errorf("platform timeout"))
	s := newTestScheduler(store, pub, testConfig())

	s.Scan(context.Background())

	got := store.get("post-1")
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "platform timeout", got.LastError)
	require.NotNil(t, got.ScheduledTime, "failed publish keeps the scheduled time")
	assert.True(t, got.ScheduledTime.Equal(due))
}

func TestScan_SkipsFuturePosts(t *testing.T) {
	store := newMemStore()
	store.put(scheduledPost("post-1", time.Now().Add(time.Hour)))

	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, testConfig())

	s.Scan(context.Background())

	got := store.get("post-1")
	assert.Equal(t, entity.StatusScheduled, got.Status)
	assert.Equal(t, 0, pub.callCount("post-1"))
}

func TestScan_BatchLimitLeavesRemainderForNextScan(t *testing.T) {
	cfg := testConfig()
	cfg.SchedulerBatchSize = 2

	store := newMemStore()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		store.put(scheduledPost(fmt.Sprintf("post-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, cfg)

	s.Scan(context.Background())

	published := 0
	for i := 0; i < 5; i++ {
		if store.get(fmt.Sprintf("post-%d", i)).Status == entity.StatusPublished {
			published++
		}
	}
	assert.Equal(t, 2, published)

	// Oldest scheduled times go first.
	assert.Equal(t, entity.StatusPublished, store.get("post-0").Status)
	assert.Equal(t, entity.StatusPublished, store.get("post-1").Status)

	// Remaining scans drain the rest.
	s.Scan(context.Background())
	s.Scan(context.Background())
	for i := 0; i < 5; i++ {
		assert.Equal(t, entity.StatusPublished, store.get(fmt.Sprintf("post-%d", i)).Status)
	}
}

// Concurrent scheduler instances race for the same due posts;
// exactly one claim wins and the publisher runs once per post.
func TestScan_ConcurrentInstancesClaimOnce(t *testing.T) {
	const workers = 8
	const posts = 5

	store := newMemStore()
	for i := 0; i < posts; i++ {
		store.put(scheduledPost(fmt.Sprintf("post-%d", i), time.Now().Add(-time.Minute)))
	}

	pub := newStubPublisher(nil)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		s := newTestScheduler(store, pub, testConfig())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Scan(context.Background())
		}()
	}
	wg.Wait()

	for i := 0; i < posts; i++ {
		id := fmt.Sprintf("post-%d", i)
		assert.Equal(t, 1, pub.callCount(id), "post %s must be published exactly once", id)
		assert.Equal(t, entity.StatusPublished, store.get(id).Status)
	}
}

// Every publish attempt fails; after the retry budget is
// spent, a further retry is rejected by the engine.
func TestScan_RetryBudgetExhaustion(t *testing.T) {
	store := newMemStore()
	store.put(scheduledPost("post-1", time.Now().Add(-time.Minute)))

	pub := newStubPublisher(fmt.Errorf("platform timeout"))
	log := logger.New()
	lc := usecase.NewLifecycleUseCase(store, nil, nil, log)
	s := New(store, lc, pub, log, testConfig())

	for cycle := 0; cycle < lifecycle.MaxRetries; cycle++ {
		s.Scan(context.Background())

		got := store.get("post-1")
		assert.Equal(t, entity.StatusFailed, got.Status)
		assert.Equal(t, cycle+1, got.RetryCount)

		if cycle < lifecycle.MaxRetries-1 {
			_, err := lc.Retry("post-1")
			require.NoError(t, err)
		}
	}

	_, err := lc.Retry("post-1")
	require.Error(t, err)
	assert.True(t, lifecycle.IsInvalidTransition(err))
	assert.Equal(t, lifecycle.MaxRetries, store.get("post-1").RetryCount)
}

func TestScan_ReclaimsStaleClaims(t *testing.T) {
	store := newMemStore()

	stale := scheduledPost("post-1", time.Now().Add(-time.Hour))
	stale.Status = entity.StatusPublishing
	attempted := time.Now().Add(-time.Hour)
	stale.ScheduleAttemptedAt = &attempted
	store.put(stale)

	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, testConfig())

	s.Scan(context.Background())

	got := store.get("post-1")
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.LastError)
}

func TestScan_FreshClaimIsNotReclaimed(t *testing.T) {
	store := newMemStore()

	inflight := scheduledPost("post-1", time.Now().Add(-time.Minute))
	inflight.Status = entity.StatusPublishing
	attempted := time.Now()
	inflight.ScheduleAttemptedAt = &attempted
	store.put(inflight)

	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, testConfig())

	s.Scan(context.Background())

	got := store.get("post-1")
	assert.Equal(t, entity.StatusPublishing, got.Status)
	assert.Equal(t, 0, pub.callCount("post-1"))
}

func TestRun_ScansImmediatelyOnStart(t *testing.T) {
	store := newMemStore()
	store.put(scheduledPost("post-1", time.Now().Add(-time.Minute)))

	pub := newStubPublisher(nil)
	cfg := testConfig()
	// A long interval makes the first tick unreachable: only the startup
	// scan can publish the post.
	cfg.SchedulerInterval = time.Hour
	s := newTestScheduler(store, pub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for store.get("post-1").Status != entity.StatusPublished {
		select {
		case <-deadline:
			t.Fatal("due post was not published on startup")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, 1, pub.callCount("post-1"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	pub := newStubPublisher(nil)
	s := newTestScheduler(store, pub, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

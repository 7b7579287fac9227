package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kol-signals/pkg/models"
)

type fakeLister struct {
	calls    atomic.Int32
	projects []models.TrackedProject
	err      error
	delay    time.Duration
}

func (f *fakeLister) ListProjects(ctx context.Context) ([]models.TrackedProject, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.projects, f.err
}

var testProjects = []models.TrackedProject{
	{ID: "1", DisplayName: "Uniswap", TwitterHandle: "uniswap"},
	{ID: "2", DisplayName: "Aave", TwitterHandle: "aave"},
	{ID: "3", DisplayName: "Universe Token", TwitterHandle: "univ"},
	{ID: "4", DisplayName: "Bored Ape Yacht Club", TwitterHandle: "BoredApeYC"},
}

func TestDirectory_LoadOnce(t *testing.T) {
	l := &fakeLister{projects: testProjects, delay: 20 * time.Millisecond}
	d := New(l)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Load(context.Background())
		}()
	}
	wg.Wait()
	d.Load(context.Background())

	assert.EqualValues(t, 1, l.calls.Load())
	assert.Len(t, d.Projects(), 4)

	p, ok := d.ByHandle("@BOREDAPEYC")
	require.True(t, ok)
	assert.Equal(t, "4", p.ID)
	p, ok = d.ByID("2")
	require.True(t, ok)
	assert.Equal(t, "aave", p.TwitterHandle)
}

func TestDirectory_LoadFailureDegradesToEmpty(t *testing.T) {
	l := &fakeLister{err: errors.New("boom")}
	d := New(l)
	d.Load(context.Background())
	d.Load(context.Background())

	assert.EqualValues(t, 1, l.calls.Load(), "no retry")
	assert.True(t, d.Search("", nil).Empty())
	_, ok := d.ByHandle("uniswap")
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	dir := []models.TrackedProject{
		{ID: "u", DisplayName: "Uniswap", TwitterHandle: "uniswap"},
		{ID: "a", DisplayName: "Aave", TwitterHandle: "aave"},
	}
	res := Search(dir, "uni", nil)
	require.Len(t, res.All(), 1)
	assert.Equal(t, "u", res.All()[0].ID)

	res = Search(dir, "", []string{"a"})
	require.Len(t, res.Recent, 1)
	assert.Equal(t, "a", res.Recent[0].ID)
	require.Len(t, res.Others, 1)
	assert.Equal(t, "u", res.Others[0].ID)
}

func TestSearch_RecentOrderAndCase(t *testing.T) {
	res := Search(testProjects, "UNI", []string{"3", "missing", "1"})
	require.Len(t, res.Recent, 2)
	assert.Equal(t, "3", res.Recent[0].ID)
	assert.Equal(t, "1", res.Recent[1].ID)
	assert.Empty(t, res.Others)

	res = Search(testProjects, "ape", []string{"1"})
	assert.Empty(t, res.Recent)
	require.Len(t, res.Others, 1)
	assert.Equal(t, "4", res.Others[0].ID)

	assert.True(t, Search(testProjects, "zzz", nil).Empty())
}

type memRecentStore struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (m *memRecentStore) RecentProjects(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

func (m *memRecentStore) SetRecentProjects(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.ids = append([]string(nil), ids...)
	return nil
}

func TestPushRecent(t *testing.T) {
	assert.Equal(t, []string{"a"}, PushRecent(nil, "a", 5))
	assert.Equal(t, []string{"b", "a"}, PushRecent([]string{"a", "b"}, "b", 5))
	assert.Equal(t, []string{"f", "a", "b", "c", "d"}, PushRecent([]string{"a", "b", "c", "d", "e"}, "f", 5))
}

func TestPushRecent_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var ids []string
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("p%d", rng.Intn(9))
		ids = PushRecent(ids, id, 5)

		assert.LessOrEqual(t, len(ids), 5)
		assert.Equal(t, id, ids[0])
		seen := map[string]bool{}
		for _, x := range ids {
			assert.False(t, seen[x], "duplicate %s in %v", x, ids)
			seen[x] = true
		}
	}
}

func TestRecent_TouchPersists(t *testing.T) {
	store := &memRecentStore{ids: []string{"x", "x", "y"}}
	r := NewRecent(store, 3)
	ctx := context.Background()

	assert.Equal(t, []string{"x", "y"}, r.IDs(ctx))

	ids, err := r.Touch(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, ids)
	assert.Equal(t, []string{"y", "x"}, store.ids)

	store.fail = true
	_, err = r.Touch(ctx, "z")
	assert.Error(t, err)
	assert.Equal(t, []string{"y", "x"}, r.IDs(ctx), "failed persist leaves the list unchanged")
}

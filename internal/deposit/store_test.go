package deposit

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := NewQueued("1", "hash", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)

	require.NoError(t, s.Put(r))

	got, ok, err := s.Get("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutIfAbsent_DoesNotOverwrite(t *testing.T) {
	s := newTestStore(t)
	original := NewQueued("1", "hash", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)
	require.NoError(t, s.Put(original))

	duplicate := NewQueued("1", "hash", 0, testReceipt(), L1OutputEvent{}, "someone-else", 9999)
	created, err := s.PutIfAbsent(duplicate)
	require.NoError(t, err)
	assert.False(t, created)

	got, _, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "owner", got.Owner)
}

func TestStore_PutIfAbsent_CreatesWhenMissing(t *testing.T) {
	s := newTestStore(t)
	r := NewQueued("1", "hash", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)

	created, err := s.PutIfAbsent(r)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	r := NewQueued("1", "hash", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)
	require.NoError(t, s.Put(r))

	require.NoError(t, s.Delete("1"))

	_, ok, err := s.Get("1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(NewQueued("1", "h1", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))
	require.NoError(t, s.Put(NewQueued("2", "h2", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))

	records, err := s.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_ListByStatus_WithoutIndexScans(t *testing.T) {
	s := newTestStore(t)
	txHash := "0xabc"
	require.NoError(t, s.Put(NewQueued("1", "h1", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))
	require.NoError(t, s.Put(NewQueued("2", "h2", 0, testReceipt(), L1OutputEvent{}, "owner", 1000).AdvanceToInitialized(&txHash, 2000)))

	queued, err := s.ListByStatus(Queued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "1", queued[0].ID)

	initialized, err := s.ListByStatus(Initialized)
	require.NoError(t, err)
	require.Len(t, initialized, 1)
	assert.Equal(t, "2", initialized[0].ID)
}

func TestStore_List_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(NewQueued("1", "h1", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "2.json"), []byte("not json"), 0o644))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID)
}

// fakeIndex is a minimal in-memory Index used to verify Store wires updates
// through to the index and tolerates index drift.
type fakeIndex struct {
	byStatus map[Status]map[string]bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byStatus: map[Status]map[string]bool{}}
}

func (f *fakeIndex) Set(id string, status Status) error {
	for _, m := range f.byStatus {
		delete(m, id)
	}
	if f.byStatus[status] == nil {
		f.byStatus[status] = map[string]bool{}
	}
	f.byStatus[status][id] = true
	return nil
}

func (f *fakeIndex) Delete(id string) error {
	for _, m := range f.byStatus {
		delete(m, id)
	}
	return nil
}

func (f *fakeIndex) List(status Status) ([]string, error) {
	var ids []string
	for id := range f.byStatus[status] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeIndex) Close() error { return nil }

func TestStore_ListByStatus_UsesIndexWhenPresent(t *testing.T) {
	idx := newFakeIndex()
	s, err := NewStore(t.TempDir(), idx)
	require.NoError(t, err)

	require.NoError(t, s.Put(NewQueued("1", "h1", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))

	queued, err := s.ListByStatus(Queued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "1", queued[0].ID)
}

func TestStore_Rebuild_PopulatesIndexFromFiles(t *testing.T) {
	dir := t.TempDir()
	plain, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, plain.Put(NewQueued("1", "h1", 0, testReceipt(), L1OutputEvent{}, "owner", 1000)))

	idx := newFakeIndex()
	s, err := NewStore(dir, idx)
	require.NoError(t, err)

	require.NoError(t, s.Rebuild())

	queued, err := s.ListByStatus(Queued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
}

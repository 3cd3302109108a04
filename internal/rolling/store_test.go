package rolling

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgstephens/gdo-bridge/internal/storage"
)

type memKV struct {
	values   map[string]uint32
	failRead bool
	failNext bool
}

func newMemKV() *memKV {
	return &memKV{values: map[string]uint32{}}
}

func (m *memKV) Read(key string) (uint32, bool, error) {
	if m.failRead {
		return 0, false, errors.New("flash unavailable")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) Write(key string, v uint32) error {
	if m.failNext {
		m.failNext = false
		return errors.New("flash write failed")
	}
	m.values[key] = v
	return nil
}

func TestLoadGeneratesAndPersistsID(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv)

	st, err := s.Load()
	require.NoError(t, err)
	assert.NotZero(t, st.DeviceID)
	assert.Equal(t, uint32(0x539), st.DeviceID&0xfff)
	assert.Equal(t, st.DeviceID, kv.values[storage.KeyDeviceID])
	assert.Zero(t, st.Counter)

	again, err := NewStore(kv).Load()
	require.NoError(t, err)
	assert.Equal(t, st.DeviceID, again.DeviceID)
}

func TestLoadReplacesZeroID(t *testing.T) {
	kv := newMemKV()
	kv.values[storage.KeyDeviceID] = 0
	kv.values[storage.KeyRolling] = 77
	s := NewStore(kv)
	s.newID = func() uint32 { return 0x42539 }

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x42539), st.DeviceID)
	assert.Equal(t, uint32(77), st.Counter)
}

func TestLoadFailsWhenStoreUnavailable(t *testing.T) {
	kv := newMemKV()
	kv.failRead = true
	_, err := NewStore(kv).Load()
	assert.Error(t, err)
}

func TestAdvanceIsMonotonicAndPersisted(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv)
	_, err := s.Load()
	require.NoError(t, err)

	prev := s.Counter()
	for i := 0; i < 10; i++ {
		st, err := s.Advance()
		require.NoError(t, err)
		assert.Greater(t, st.Counter, prev)
		assert.Equal(t, st.Counter, kv.values[storage.KeyRolling])
		prev = st.Counter
	}
}

func TestAdvancePersistFailureStillAdvances(t *testing.T) {
	kv := newMemKV()
	s := NewStore(kv)
	_, err := s.Load()
	require.NoError(t, err)

	kv.failNext = true
	st, err := s.Advance()
	assert.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, uint32(1), st.Counter)
	assert.Equal(t, uint32(1), s.Counter())

	st, err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.Counter)
	assert.Equal(t, uint32(2), kv.values[storage.KeyRolling])
}

func TestSurvivesRestartWithFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flash")
	fs, err := storage.OpenFileStore(dir)
	require.NoError(t, err)

	s := NewStore(fs)
	first, err := s.Load()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Advance()
		require.NoError(t, err)
	}

	fs2, err := storage.OpenFileStore(dir)
	require.NoError(t, err)
	st, err := NewStore(fs2).Load()
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, st.DeviceID)
	assert.Equal(t, uint32(3), st.Counter)
}

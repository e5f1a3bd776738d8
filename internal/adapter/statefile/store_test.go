package statefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

func TestInventoryRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state"))

	empty, err := s.LoadInventory()
	require.NoError(t, err)
	assert.Empty(t, empty)

	a := domain.NewInventory("010010", "99999", 2010)
	a.Months[0], a.Months[11] = 31, 30
	a.LastUpdated = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := domain.NewInventory("722950", "23174", 1973)

	want := map[string]domain.Inventory{a.Key(): a, b.Key(): b}
	require.NoError(t, s.SaveInventory(want))

	got, err := s.LoadInventory()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("inventory mismatch (-want +got):\n%s", diff)
	}
}

func TestYearLogRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	want := map[int]time.Time{
		1929: time.Date(2019, 2, 27, 13, 48, 0, 0, time.UTC),
		2024: time.Date(2024, 6, 1, 8, 15, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveYearLog(want))

	got, err := s.LoadYearLog()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadInventory_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, inventoryFile), []byte("ID,USAF\nx,y\n"), 0o644))

	_, err := New(dir).LoadInventory()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestStationsPath(t *testing.T) {
	assert.Equal(t, filepath.Join("state", "isd-history.csv"), New("state").StationsPath())
	assert.Equal(t, filepath.Join("state", "isd-history-noaa.csv"), New("state").NOAAStationsPath())
}

package alias

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignAndResolve(t *testing.T) {
	r := NewRegistry(nil)

	conflicts, err := r.Assign("WebServer1", "192.168.1.10")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	addr, ok := r.Resolve("webserver1")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", addr)

	addr, ok = r.Resolve("WEBSERVER1")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", addr)

	name, ok := r.ReverseLookup("192.168.1.10")
	require.True(t, ok)
	assert.Equal(t, "webserver1", name)
}

func TestAssignRejectsEmptyValues(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Assign("", "1.2.3.4")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = r.Assign("   ", "1.2.3.4")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = r.Assign("name", "")
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Equal(t, 0, r.Snapshot().Len())
}

func TestAssignKeepsBijection(t *testing.T) {
	tests := []struct {
		name          string
		setup         []Entry
		assign        Entry
		wantConflicts []Conflict
		wantTable     map[string]string
	}{
		{
			name:          "new name for an address drops the old name",
			setup:         []Entry{{"OldAlias", "192.168.1.20"}},
			assign:        Entry{"NewAlias", "192.168.1.20"},
			wantConflicts: []Conflict{{Name: "oldalias", Address: "192.168.1.20"}},
			wantTable:     map[string]string{"newalias": "192.168.1.20"},
		},
		{
			name:          "moving a name drops its previous address",
			setup:         []Entry{{"Server", "10.0.0.1"}},
			assign:        Entry{"server", "10.0.0.2"},
			wantConflicts: []Conflict{{Name: "server", Address: "10.0.0.1"}},
			wantTable:     map[string]string{"server": "10.0.0.2"},
		},
		{
			name:   "moving a name onto a bound address drops both links",
			setup:  []Entry{{"a", "10.0.0.1"}, {"b", "10.0.0.2"}},
			assign: Entry{"a", "10.0.0.2"},
			wantConflicts: []Conflict{
				{Name: "a", Address: "10.0.0.1"},
				{Name: "b", Address: "10.0.0.2"},
			},
			wantTable: map[string]string{"a": "10.0.0.2"},
		},
		{
			name:      "reassigning the same pair is not a conflict",
			setup:     []Entry{{"gw", "10.0.0.1"}},
			assign:    Entry{"GW", "10.0.0.1"},
			wantTable: map[string]string{"gw": "10.0.0.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			_, err := r.Load(tt.setup)
			require.NoError(t, err)

			conflicts, err := r.Assign(tt.assign.Name, tt.assign.Address)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.wantConflicts, conflicts)

			snap := r.Snapshot()
			assert.Equal(t, tt.wantTable, snap.Map())
			for n, a := range snap.Map() {
				back, ok := snap.ReverseLookup(a)
				require.True(t, ok)
				assert.Equal(t, n, back)
			}
		})
	}
}

func TestUnassign(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Assign("Device 1", "192.168.1.11")
	require.NoError(t, err)

	require.NoError(t, r.Unassign("192.168.1.11"))
	_, ok := r.Resolve("device 1")
	assert.False(t, ok)
	_, ok = r.ReverseLookup("192.168.1.11")
	assert.False(t, ok)

	assert.ErrorIs(t, r.Unassign("192.168.1.11"), ErrNotFound)
}

func TestSnapshotIsImmutable(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Assign("gateway", "10.0.0.1")
	require.NoError(t, err)

	before := r.Snapshot()
	_, err = r.Assign("gateway", "10.0.0.254")
	require.NoError(t, err)

	addr, _ := before.Resolve("gateway")
	assert.Equal(t, "10.0.0.1", addr)
	addr, _ = r.Snapshot().Resolve("gateway")
	assert.Equal(t, "10.0.0.254", addr)

	m := before.Map()
	m["gateway"] = "mutated"
	addr, _ = before.Resolve("gateway")
	assert.Equal(t, "10.0.0.1", addr)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = r.Assign(fmt.Sprintf("host%d", j%10), fmt.Sprintf("10.0.%d.%d", i, j%10))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := r.Snapshot()
				for n, a := range snap.Map() {
					back, ok := snap.ReverseLookup(a)
					if !ok || back != n {
						t.Errorf("snapshot not bijective: %s -> %s -> %s", n, a, back)
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Snapshot().Len(), 10)
}

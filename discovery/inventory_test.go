package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInventorySourceDiffsAddedAndRemoved(t *testing.T) {
	var round atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var instances []vmapiInstance
		if round.Load() == 0 {
			instances = []vmapiInstance{
				{UUID: "a", Alias: "pg-a", Tags: map[string]string{"role": "pg"}, NICs: []vmapiNIC{{IP: "10.0.0.1", NicTag: "mgmt"}}},
				{UUID: "b", Alias: "pg-b", Tags: map[string]string{"role": "pg"}, NICs: []vmapiNIC{{IP: "10.0.0.2", NicTag: "mgmt"}}},
			}
		} else {
			instances = []vmapiInstance{
				{UUID: "b", Alias: "pg-b", Tags: map[string]string{"role": "pg"}, NICs: []vmapiNIC{{IP: "10.0.0.2", NicTag: "mgmt"}}},
				{UUID: "c", Alias: "pg-c", Tags: map[string]string{"role": "pg"}, NICs: []vmapiNIC{{IP: "10.0.0.3", NicTag: "mgmt"}}},
			}
		}
		round.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(instances))
	}))
	defer srv.Close()

	src := NewInventory(InventoryConfig{
		URL:          srv.URL,
		PollInterval: 20 * time.Millisecond,
		Tags:         InventoryTags{VMTagName: "role", VMTagValue: "pg", NicTag: "mgmt"},
		BackendPort:  5432,
		Database:     "postgres",
	}, srv.Client())
	defer src.Stop()

	added := map[string]bool{}
	for len(added) < 2 {
		ev := <-src.Added()
		added[ev.Key] = true
	}
	require.True(t, added["a"])
	require.True(t, added["b"])

	removedKey := <-src.Removed()
	require.Equal(t, "a", removedKey)

	addedC := <-src.Added()
	require.Equal(t, "c", addedC.Key)
	require.Equal(t, "10.0.0.3", addedC.Backend.Address)
}

func TestMatchesTagsNoSelectorMatchesEverything(t *testing.T) {
	require.True(t, matchesTags(vmapiInstance{}, InventoryTags{}))
}

func TestResolveAddressPicksMatchingNicTag(t *testing.T) {
	inst := vmapiInstance{NICs: []vmapiNIC{
		{IP: "10.0.0.1", NicTag: "external"},
		{IP: "192.168.0.1", NicTag: "mgmt0"},
	}}

	s := &inventorySource{}
	require.Equal(t, "10.0.0.1", s.resolveAddress(inst))

	s.nicTagRe = regexp.MustCompile("^mgmt")
	require.Equal(t, "192.168.0.1", s.resolveAddress(inst))
}

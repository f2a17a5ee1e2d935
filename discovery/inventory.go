package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// InventoryTags selects which fleet-inventory instances to monitor.
// NicTag is a regular expression matched against each instance's nic_tag,
// not a literal string.
type InventoryTags struct {
	VMTagName  string
	VMTagValue string
	NicTag     string
}

// InventoryConfig configures the inventory discovery provider.
type InventoryConfig struct {
	URL          string
	PollInterval time.Duration
	Tags         InventoryTags
	BackendPort  int
	Database     string
}

// vmapiInstance is the subset of a fleet-inventory instance record this
// provider needs: its identity, its tags (for the configured selector), and
// its network interfaces (to resolve the address to connect to).
type vmapiInstance struct {
	UUID  string            `json:"uuid"`
	Alias string            `json:"alias"`
	Tags  map[string]string `json:"tags"`
	NICs  []vmapiNIC        `json:"nics"`
}

type vmapiNIC struct {
	IP     string `json:"ip"`
	NicTag string `json:"nic_tag"`
}

// inventorySource polls cfg.URL on cfg.PollInterval, diffing successive
// snapshots into added/removed events.
type inventorySource struct {
	cfg      InventoryConfig
	client   *http.Client
	nicTagRe *regexp.Regexp

	added   chan AddedEvent
	removed chan string

	cancel context.CancelFunc
}

// NewInventory builds a Source that polls the fleet-inventory HTTP service
// at cfg.URL using httpClient, selecting instances whose tags match
// cfg.Tags. Only one provider is active per process; the caller decides
// inventory-wins-over-static per §4.D.
func NewInventory(cfg InventoryConfig, httpClient *http.Client) Source {
	ctx, cancel := context.WithCancel(context.Background())

	s := &inventorySource{
		cfg:     cfg,
		client:  httpClient,
		added:   make(chan AddedEvent, 64),
		removed: make(chan string, 64),
		cancel:  cancel,
	}

	if cfg.Tags.NicTag != "" {
		re, err := regexp.Compile(cfg.Tags.NicTag)
		if err != nil {
			log.Warn("invalid nic_tag_regex, matching no nics", zap.String("nic_tag_regex", cfg.Tags.NicTag), zap.Error(err))
			s.nicTagRe = regexp.MustCompile(`[^\x00-\x{10FFFF}]`) // matches no string
		} else {
			s.nicTagRe = re
		}
	}

	go s.run(ctx)
	return s
}

func (s *inventorySource) Added() <-chan AddedEvent { return s.added }
func (s *inventorySource) Removed() <-chan string   { return s.removed }
func (s *inventorySource) Stop()                    { s.cancel() }

func (s *inventorySource) run(ctx context.Context) {
	known := make(map[string]Backend)

	s.pollOnce(ctx, known)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, known)
		}
	}
}

func (s *inventorySource) pollOnce(ctx context.Context, known map[string]Backend) {
	instances, err := s.fetch(ctx)
	if err != nil {
		log.Warn("inventory poll failed", zap.Error(err))
		return
	}

	current := make(map[string]Backend, len(instances))
	for _, inst := range instances {
		if !matchesTags(inst, s.cfg.Tags) {
			continue
		}
		addr := s.resolveAddress(inst)
		if addr == "" {
			continue
		}
		current[inst.UUID] = Backend{
			Address:        addr,
			Port:           s.cfg.BackendPort,
			DisplayName:    inst.Alias,
			TargetDatabase: s.cfg.Database,
		}
	}

	for key, backend := range current {
		if _, ok := known[key]; !ok {
			s.added <- AddedEvent{Key: key, Backend: backend}
		}
	}
	for key := range known {
		if _, ok := current[key]; !ok {
			s.removed <- key
		}
	}

	for k := range known {
		delete(known, k)
	}
	for k, v := range current {
		known[k] = v
	}
}

func (s *inventorySource) fetch(ctx context.Context) ([]vmapiInstance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build inventory request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch inventory")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("inventory request returned status %d", resp.StatusCode)
	}

	var instances []vmapiInstance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, errors.Wrap(err, "decode inventory response")
	}
	return instances, nil
}

func matchesTags(inst vmapiInstance, sel InventoryTags) bool {
	if sel.VMTagName == "" {
		return true
	}
	return inst.Tags[sel.VMTagName] == sel.VMTagValue
}

func (s *inventorySource) resolveAddress(inst vmapiInstance) string {
	for _, nic := range inst.NICs {
		if s.nicTagRe == nil || s.nicTagRe.MatchString(nic.NicTag) {
			return nic.IP
		}
	}
	return ""
}

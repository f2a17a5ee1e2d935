package discovery

// StaticEntry is one statically configured backend: {name, ip} from
// config.Static.Dbs.
type StaticEntry struct {
	Name string
	IP   string
}

// StaticConfig configures the static discovery provider.
type StaticConfig struct {
	Dbs         []StaticEntry
	BackendPort int
	Database    string
}

// staticSource emits every configured entry once at startup and never
// emits removed, per §4.D.1.
type staticSource struct {
	added   chan AddedEvent
	removed chan string
}

// NewStatic builds a Source that emits cfg.Dbs once, synchronously drained
// by the caller via Added().
func NewStatic(cfg StaticConfig) Source {
	s := &staticSource{
		added:   make(chan AddedEvent, len(cfg.Dbs)),
		removed: make(chan string),
	}

	for _, db := range cfg.Dbs {
		s.added <- AddedEvent{
			Key: db.Name,
			Backend: Backend{
				Address:        db.IP,
				Port:           cfg.BackendPort,
				DisplayName:    db.Name,
				TargetDatabase: cfg.Database,
			},
		}
	}

	return s
}

func (s *staticSource) Added() <-chan AddedEvent { return s.added }
func (s *staticSource) Removed() <-chan string   { return s.removed }
func (s *staticSource) Stop()                    {}

package grades

// ChangeKind classifies a detected difference between snapshot and fetch.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

type Change struct {
	Kind   ChangeKind
	Record Record
}

// Snapshot is a poller's in-memory view of a user's known records.
// It keeps insertion order so renderings stay stable. Not safe for concurrent use.
type Snapshot struct {
	order []Key
	byKey map[Key]Record
}

// NewSnapshot seeds a snapshot from previously stored records. On duplicate
// keys the later record wins.
func NewSnapshot(seed []Record) *Snapshot {
	s := &Snapshot{byKey: make(map[Key]Record, len(seed))}
	for _, r := range seed {
		s.put(r)
	}
	return s
}

func (s *Snapshot) put(r Record) {
	k := r.Key()
	if _, ok := s.byKey[k]; !ok {
		s.order = append(s.order, k)
	}
	s.byKey[k] = r
}

func (s *Snapshot) Len() int { return len(s.order) }

func (s *Snapshot) Get(k Key) (Record, bool) {
	r, ok := s.byKey[k]
	return r, ok
}

// Records returns the snapshot's records in insertion order.
func (s *Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// Apply diffs fetched against the snapshot, updates the snapshot in place and
// returns the changes in fetch order.
//
// Keys missing from fetched are kept and produce no change: a record once seen
// stays tracked. A key repeated within fetched is diffed against the state left
// by its earlier occurrence.
func (s *Snapshot) Apply(fetched []Record) []Change {
	var changes []Change
	for _, r := range fetched {
		prev, ok := s.byKey[r.Key()]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, Record: r})
		case prev != r:
			changes = append(changes, Change{Kind: Updated, Record: r})
		default:
			continue
		}
		s.put(r)
	}
	return changes
}

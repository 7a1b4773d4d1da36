package schedule

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Persister saves and restores store snapshots.
type Persister interface {
	Save(v any) error
	Load(v any) error
}

// state is one immutable version of the store. Readers load it through an
// atomic pointer and never observe a partially committed day.
type state struct {
	seq        uint64
	days       map[calendar.Date]*DailySchedule
	index      map[string]calendar.Date
	successors map[string]string
	firstDone  map[string]calendar.Date
}

func newState() *state {
	return &state{
		days:       make(map[calendar.Date]*DailySchedule),
		index:      make(map[string]calendar.Date),
		successors: make(map[string]string),
		firstDone:  make(map[string]calendar.Date),
	}
}

// Store is the committed schedule. Reads are lock-free; commits are
// copy-on-write and serialized.
type Store struct {
	current atomic.Pointer[state]
	writeMu sync.Mutex

	locks     *DateLocks
	persister Persister
	logger    *logging.Logger
}

// NewStore creates an empty store.
func NewStore(logger *logging.Logger) *Store {
	s := &Store{
		locks:  NewDateLocks(),
		logger: logging.OrNop(logger).Named("schedule"),
	}
	s.current.Store(newState())
	return s
}

// WithPersister enables snapshotting after every commit.
func (s *Store) WithPersister(p Persister) *Store {
	s.persister = p
	return s
}

// Locks returns the per-date writer locks.
func (s *Store) Locks() *DateLocks {
	return s.locks
}

// Seq returns the commit sequence number.
func (s *Store) Seq() uint64 {
	return s.current.Load().seq
}

// Day returns the committed schedule for d.
func (s *Store) Day(d calendar.Date) (*DailySchedule, bool) {
	day, ok := s.current.Load().days[d]
	return day, ok
}

// Range returns n consecutive days from from; missing days are nil.
func (s *Store) Range(from calendar.Date, n int) []*DailySchedule {
	st := s.current.Load()
	out := make([]*DailySchedule, n)
	for i := range out {
		out[i] = st.days[from.AddDays(i)]
	}
	return out
}

// Week returns the seven days starting at weekStart.
func (s *Store) Week(weekStart calendar.Date) []*DailySchedule {
	return s.Range(weekStart, 7)
}

// Dates returns every committed date in order.
func (s *Store) Dates() []calendar.Date {
	st := s.current.Load()
	out := make([]calendar.Date, 0, len(st.days))
	for d := range st.days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Instance finds an instance by id.
func (s *Store) Instance(id string) (Instance, *DailySchedule, bool) {
	st := s.current.Load()
	d, ok := st.index[id]
	if !ok {
		return Instance{}, nil, false
	}
	day := st.days[d]
	i := day.Find(id)
	if i < 0 {
		return Instance{}, nil, false
	}
	return day.Instances[i], day, true
}

// Successor returns the id of the instance created from id by recovery.
func (s *Store) Successor(id string) (string, bool) {
	succ, ok := s.current.Load().successors[id]
	return succ, ok
}

// DoneBefore reports whether templateID has a Done instance dated
// strictly before d.
func (s *Store) DoneBefore(templateID string, d calendar.Date) bool {
	first, ok := s.current.Load().firstDone[templateID]
	return ok && first.Before(d)
}

// Commit atomically replaces the given days. Every day is committed or
// none is.
func (s *Store) Commit(days ...*DailySchedule) error {
	if len(days) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.current.Load()
	next := &state{
		seq:  old.seq + 1,
		days: make(map[calendar.Date]*DailySchedule, len(old.days)+len(days)),
	}
	for d, day := range old.days {
		next.days[d] = day
	}
	for _, day := range days {
		if day == nil {
			return errors.New("commit: nil day")
		}
		next.days[day.Date] = day
	}
	next.reindex()

	s.current.Store(next)
	s.persist(next)
	return nil
}

func (st *state) reindex() {
	st.index = make(map[string]calendar.Date)
	st.successors = make(map[string]string)
	st.firstDone = make(map[string]calendar.Date)
	for d, day := range st.days {
		for i := range day.Instances {
			inst := &day.Instances[i]
			st.index[inst.ID] = d
			if inst.RescheduledFrom != "" {
				st.successors[inst.RescheduledFrom] = inst.ID
			}
			if inst.Status == Done {
				if first, ok := st.firstDone[inst.TemplateID]; !ok || d.Before(first) {
					st.firstDone[inst.TemplateID] = d
				}
			}
		}
	}
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Seq  uint64           `json:"seq"`
	Days []*DailySchedule `json:"days"`
}

// Snapshot returns the current committed state.
func (s *Store) Snapshot() Snapshot {
	st := s.current.Load()
	return st.snapshot()
}

// Restore loads the persisted snapshot, if any. It returns the highest
// blueprint version referenced by the restored days.
func (s *Store) Restore() (uint64, error) {
	if s.persister == nil {
		return 0, nil
	}
	var snap Snapshot
	if err := s.persister.Load(&snap); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := newState()
	next.seq = snap.Seq
	var version uint64
	for _, day := range snap.Days {
		if day == nil {
			continue
		}
		next.days[day.Date] = day
		if day.BlueprintVersion > version {
			version = day.BlueprintVersion
		}
	}
	next.reindex()
	s.current.Store(next)

	s.logger.Info("Schedule restored", zap.Int("days", len(next.days)), zap.Uint64("seq", next.seq))
	return version, nil
}

func (s *Store) persist(st *state) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(st.snapshot()); err != nil {
		s.logger.Error("Failed to persist schedule", zap.Error(err), zap.Uint64("seq", st.seq))
	}
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{Seq: st.seq, Days: make([]*DailySchedule, 0, len(st.days))}
	for _, day := range st.days {
		snap.Days = append(snap.Days, day)
	}
	sort.Slice(snap.Days, func(i, j int) bool { return snap.Days[i].Date.Before(snap.Days[j].Date) })
	return snap
}

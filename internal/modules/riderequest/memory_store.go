// README: In-memory Store with live listeners, used for local runs and tests.
package riderequest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"roadhelper/internal/types"
)

// MemoryStore keeps ride requests in process memory. Listener mailboxes are
// filled while the store lock is held, so every listener converges on the
// latest state even when intermediate snapshots are coalesced.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[types.ID]*memDoc
	seq     int64
	now     func() time.Time
	one     map[types.ID]map[*mailbox[*RideRequest]]struct{}
	queries map[*queryWatch]struct{}
}

type memDoc struct {
	r   *RideRequest
	seq int64
}

type queryWatch struct {
	q   Query
	box *mailbox[[]*RideRequest]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[types.ID]*memDoc),
		now:     time.Now,
		one:     make(map[types.ID]map[*mailbox[*RideRequest]]struct{}),
		queries: make(map[*queryWatch]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *RideRequest) (types.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := types.ID(uuid.NewString())
	now := s.now()
	doc := r.Clone()
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.seq++
	s.docs[id] = &memDoc{r: doc, seq: s.seq}
	s.notifyLocked(id, nil, doc)
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.r.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id types.ID, cond Condition, patch Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !cond.Holds(d.r) {
		return false, nil
	}
	before := d.r.Clone()
	applyPatch(d.r, patch, s.now())
	s.notifyLocked(id, before, d.r)
	return true, nil
}

// applyPatch writes the whitelisted fields of p onto r.
func applyPatch(r *RideRequest, p Patch, now time.Time) {
	if p.Status != nil && *p.Status != r.Status {
		r.Status = *p.Status
		r.StatusVersion++
	}
	if p.HelperID != nil {
		r.HelperID = clonePtr(p.HelperID)
	}
	if p.HelperName != nil {
		r.HelperName = clonePtr(p.HelperName)
	}
	if p.HelperLocation != nil {
		r.HelperLocation = clonePtr(p.HelperLocation)
	}
	if p.CustomerLocation != nil {
		r.CustomerLocation = clonePtr(p.CustomerLocation)
	}
	if p.StampAccepted {
		r.AcceptedAt = &now
	}
	if p.StampCompleted {
		r.CompletedAt = &now
	}
	r.UpdatedAt = now
}

func (s *MemoryStore) WatchOne(ctx context.Context, id types.ID, fn func(*RideRequest)) error {
	box := newMailbox[*RideRequest]()

	s.mu.Lock()
	if d, ok := s.docs[id]; ok {
		box.put(d.r.Clone())
	} else {
		box.put(nil)
	}
	if s.one[id] == nil {
		s.one[id] = make(map[*mailbox[*RideRequest]]struct{})
	}
	s.one[id][box] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.one[id], box)
		if len(s.one[id]) == 0 {
			delete(s.one, id)
		}
		s.mu.Unlock()
	}()

	return box.drain(ctx, fn)
}

func (s *MemoryStore) WatchQuery(ctx context.Context, q Query, fn func([]*RideRequest)) error {
	w := &queryWatch{q: q, box: newMailbox[[]*RideRequest]()}

	s.mu.Lock()
	w.box.put(s.selectLocked(q))
	s.queries[w] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.queries, w)
		s.mu.Unlock()
	}()

	return w.box.drain(ctx, fn)
}

func (s *MemoryStore) selectLocked(q Query) []*RideRequest {
	matched := make([]*memDoc, 0)
	for _, d := range s.docs {
		if q.Matches(d.r) {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.r.CreatedAt.Equal(b.r.CreatedAt) {
			return a.r.CreatedAt.After(b.r.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]*RideRequest, len(matched))
	for i, d := range matched {
		out[i] = d.r.Clone()
	}
	return out
}

func (s *MemoryStore) notifyLocked(id types.ID, before, after *RideRequest) {
	for box := range s.one[id] {
		box.put(after.Clone())
	}
	for w := range s.queries {
		if (before != nil && w.q.Matches(before)) || (after != nil && w.q.Matches(after)) {
			w.box.put(s.selectLocked(w.q))
		}
	}
}

// mailbox holds only the latest undelivered value.
type mailbox[T any] struct {
	mu    sync.Mutex
	val   T
	full  bool
	ready chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ready: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	m.val = v
	m.full = true
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	v, ok := m.val, m.full
	m.val, m.full = zero, false
	return v, ok
}

func (m *mailbox[T]) drain(ctx context.Context, fn func(T)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.ready:
			if v, ok := m.take(); ok {
				fn(v)
			}
		}
	}
}

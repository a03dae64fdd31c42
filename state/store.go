package state

import "sync"

// Store serializes dispatches into the reducer and fans resulting snapshots
// out to subscribers. It is an explicit, injected object: consumers receive
// a *Store rather than reaching for ambient shared state.
type Store struct {
	mu    sync.Mutex
	state State

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(State)
}

// NewStore creates a store with an empty initial state.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// State returns the current snapshot. Snapshots are value copies; callers
// must not mutate the slices they carry.
func (st *Store) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Dispatch applies one action through the reducer. Dispatches are applied
// one at a time; the reducer itself never needs locks.
func (st *Store) Dispatch(action Action) {
	st.mu.Lock()
	st.state = Reduce(st.state, action)
	snapshot := st.state
	st.mu.Unlock()

	st.subMu.Lock()
	subs := make([]func(State), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.subMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Subscribe registers a listener invoked with the snapshot after every
// dispatch. The returned func removes the listener.
func (st *Store) Subscribe(fn func(State)) func() {
	st.subMu.Lock()
	id := st.nextSub
	st.nextSub++
	st.subs[id] = fn
	st.subMu.Unlock()

	return func() {
		st.subMu.Lock()
		delete(st.subs, id)
		st.subMu.Unlock()
	}
}

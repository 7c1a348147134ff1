package maturityclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promorang/maturity/pkg/maturity"
)

// StorageKey is the device storage entry holding the snapshot.
const StorageKey = "maturity-storage"

// ErrNotStored is returned by MemoryStorage.Get when the key is absent. Open
// starts from defaults on any Get error.
var ErrNotStored = errors.New("maturityclient: nothing stored")

// Storage is a synchronous key-value store on the device.
type Storage interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// State is the maturity state a client session holds for its user.
type State struct {
	Level        maturity.Level
	ActionsCount int
	Visibility   map[maturity.Feature]maturity.Mode
	LastFetched  *time.Time
	Source       maturity.Source
}

func (s State) clone() State {
	out := s
	if s.Visibility != nil {
		out.Visibility = make(map[maturity.Feature]maturity.Mode, len(s.Visibility))
		for f, m := range s.Visibility {
			out.Visibility[f] = m
		}
	}
	if s.LastFetched != nil {
		t := *s.LastFetched
		out.LastFetched = &t
	}
	return out
}

// snapshot is the persisted JSON shape.
type snapshot struct {
	MaturityState int                               `json:"maturityState"`
	ActionsCount  int                               `json:"actionsCount"`
	Visibility    map[maturity.Feature]maturity.Mode `json:"visibility"`
	LastFetched   *int64                            `json:"lastFetched"`
	Source        maturity.Source                   `json:"source,omitempty"`
}

// MarshalState encodes s in the persisted format. lastFetched is stored as
// Unix milliseconds or null.
func MarshalState(s State) ([]byte, error) {
	snap := snapshot{
		MaturityState: int(s.Level),
		ActionsCount:  s.ActionsCount,
		Visibility:    s.Visibility,
		Source:        s.Source,
	}
	if s.LastFetched != nil {
		ms := s.LastFetched.UnixMilli()
		snap.LastFetched = &ms
	}
	return json.Marshal(snap)
}

// UnmarshalState decodes a persisted snapshot.
func UnmarshalState(data []byte) (State, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return State{}, err
	}
	level, err := maturity.ParseLevel(snap.MaturityState)
	if err != nil {
		return State{}, err
	}
	if snap.ActionsCount < 0 {
		return State{}, fmt.Errorf("maturityclient: negative actionsCount %d", snap.ActionsCount)
	}
	s := State{
		Level:        level,
		ActionsCount: snap.ActionsCount,
		Visibility:   snap.Visibility,
		Source:       snap.Source,
	}
	if s.Source == "" {
		s.Source = maturity.SourceServer
	}
	if snap.LastFetched != nil {
		t := time.UnixMilli(*snap.LastFetched).UTC()
		s.LastFetched = &t
	}
	return s, nil
}

// MemoryStorage keeps entries in a map. Useful for tests and web sessions
// without durable storage.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotStored
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Package savemanager keeps save slots, the auto-saved slot 0 state and
// per-scene playback state in a session store.
//
// Keys:
//
//	SaveState_<sceneId>/<slot>  save-state text, slot 0 is the auto-save slot
//	TimeState/<sceneId>         playback state of a scene
//
// Every key lives in one of three locations. Temporary holds auto-saves and
// is consulted first, Session holds explicit slot saves, and Defaults holds
// the read-only states shipped with the catalog.
package savemanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/codec"
	"github.com/unkn0wn-root/sceneshare/internal/wire"
	"github.com/unkn0wn-root/sceneshare/provider"
)

type Location int

const (
	Temporary Location = iota
	Session
	Defaults
)

func (l Location) String() string {
	switch l {
	case Temporary:
		return "temporary"
	case Session:
		return "session"
	case Defaults:
		return "defaults"
	default:
		return "unknown"
	}
}

const (
	slotPrefix = "SaveState_"
	timePrefix = "TimeState/"

	tmpNS = "tmp:"
	sesNS = "ses:"

	// NumSlots is the number of addressable slots, 0 included.
	NumSlots = 10
)

var (
	ErrBadLocation  = errors.New("savemanager: unknown location")
	ErrRejected     = errors.New("savemanager: store rejected write")
	ErrEmptySceneID = errors.New("savemanager: empty scene id")
)

// TimeState is a scene's playback state.
type TimeState struct {
	Playing   bool    `json:"isPlaying" cbor:"isPlaying" msgpack:"isPlaying"`
	TimeScale float64 `json:"sceneTimeScale" cbor:"sceneTimeScale" msgpack:"sceneTimeScale"`
	SceneTime float64 `json:"sceneTime" cbor:"sceneTime" msgpack:"sceneTime"`
}

// SlotKey is the key of save slot n of sceneID.
func SlotKey(sceneID string, n int) string {
	return slotPrefix + sceneID + "/" + strconv.Itoa(n)
}

// ParseSlotKey splits a key produced by SlotKey.
func ParseSlotKey(key string) (sceneID string, n int, ok bool) {
	rest, found := strings.CutPrefix(key, slotPrefix)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil || n < 0 || n >= NumSlots {
		return "", 0, false
	}
	return rest[:i], n, true
}

func timeKey(sceneID string) string { return timePrefix + sceneID }

type Options struct {
	Provider provider.Provider // required

	// TimeCodec encodes TimeState records; nil => JSON.
	TimeCodec codec.Codec[TimeState]

	// TTL of temporary records; 0 => no expiry. Session records never expire.
	TemporaryTTL time.Duration

	// MaxImport bounds Import input; 0 => 1 MiB.
	MaxImport int

	Logger sceneshare.Logger
	Now    func() time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	p       provider.Provider
	tc      codec.Codec[TimeState]
	bundles codec.Codec[*structpb.Struct]
	tmpTTL  time.Duration
	log     sceneshare.Logger
	now     func() time.Time

	mu       sync.RWMutex
	defaults map[string]string
	written  map[string]struct{} // session keys, for providers without Lister
}

func New(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, errors.New("savemanager: provider is required")
	}
	m := &Manager{
		p:        opts.Provider,
		tc:       opts.TimeCodec,
		tmpTTL:   opts.TemporaryTTL,
		log:      opts.Logger,
		now:      opts.Now,
		defaults: make(map[string]string),
		written:  make(map[string]struct{}),
	}
	if m.tc == nil {
		m.tc = codec.JSON[TimeState]{}
	}
	if m.log == nil {
		m.log = sceneshare.NopLogger{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	maxImport := opts.MaxImport
	if maxImport <= 0 {
		maxImport = 1 << 20
	}
	m.bundles = codec.Limit[*structpb.Struct]{
		Inner:     codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} }),
		MaxDecode: maxImport,
	}
	return m, nil
}

func nsKey(loc Location, key string) string {
	if loc == Temporary {
		return tmpNS + key
	}
	return sesNS + key
}

func (m *Manager) put(ctx context.Context, loc Location, key string, kind byte, payload []byte) error {
	rec := wire.EncodeRecord(kind, uint64(m.now().UnixMilli()), payload)
	ttl := time.Duration(0)
	if loc == Temporary {
		ttl = m.tmpTTL
	}
	ok, err := m.p.Set(ctx, nsKey(loc, key), rec, int64(len(rec)), ttl)
	if err != nil {
		return fmt.Errorf("savemanager: set %q: %w", key, err)
	}
	if !ok {
		return ErrRejected
	}
	if loc == Session {
		m.mu.Lock()
		m.written[key] = struct{}{}
		m.mu.Unlock()
	}
	return nil
}

// get reads and validates a record. Records that fail validation are deleted
// and reported as a miss.
func (m *Manager) get(ctx context.Context, loc Location, key string, kind byte) ([]byte, bool, error) {
	nk := nsKey(loc, key)
	b, ok, err := m.p.Get(ctx, nk)
	if err != nil {
		return nil, false, fmt.Errorf("savemanager: get %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	_, payload, err := wire.DecodeRecord(b, kind)
	if err != nil {
		m.log.Warn("dropping corrupt session record", sceneshare.Fields{"key": nk, "err": err})
		_ = m.p.Del(ctx, nk)
		return nil, false, nil
	}
	return payload, true, nil
}

// SaveState stores text in the Session location.
func (m *Manager) SaveState(ctx context.Context, key, text string) error {
	return m.put(ctx, Session, key, wire.KindState, []byte(text))
}

// SaveTemporaryState stores text in the Temporary location.
func (m *Manager) SaveTemporaryState(ctx context.Context, key, text string) error {
	return m.put(ctx, Temporary, key, wire.KindState, []byte(text))
}

// LoadState looks key up in Temporary, then Session, then Defaults.
func (m *Manager) LoadState(ctx context.Context, key string) (string, bool, error) {
	for _, loc := range []Location{Temporary, Session, Defaults} {
		s, ok, err := m.LoadStateFromLocation(ctx, key, loc)
		if err != nil || ok {
			return s, ok, err
		}
	}
	return "", false, nil
}

func (m *Manager) LoadStateFromLocation(ctx context.Context, key string, loc Location) (string, bool, error) {
	switch loc {
	case Temporary, Session:
		b, ok, err := m.get(ctx, loc, key, wire.KindState)
		if err != nil || !ok {
			return "", false, err
		}
		return string(b), true, nil
	case Defaults:
		m.mu.RLock()
		s, ok := m.defaults[key]
		m.mu.RUnlock()
		return s, ok, nil
	default:
		return "", false, ErrBadLocation
	}
}

// HasStateInLocation reports whether key is present in loc.
func (m *Manager) HasStateInLocation(ctx context.Context, key string, loc Location) (bool, error) {
	_, ok, err := m.LoadStateFromLocation(ctx, key, loc)
	return ok, err
}

// DeleteState removes key from Session and Temporary. Defaults are kept, so
// LoadState falls back to the shipped state afterwards.
func (m *Manager) DeleteState(ctx context.Context, key string) error {
	var errs []error
	for _, loc := range []Location{Temporary, Session} {
		if err := m.p.Del(ctx, nsKey(loc, key)); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	delete(m.written, key)
	m.mu.Unlock()
	return errors.Join(errs...)
}

// SetDefaults replaces the Defaults location for sceneID with states, one
// per slot index.
func (m *Manager) SetDefaults(sceneID string, states map[int]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pfx := slotPrefix + sceneID + "/"
	for k := range m.defaults {
		if strings.HasPrefix(k, pfx) {
			delete(m.defaults, k)
		}
	}
	for n, s := range states {
		m.defaults[SlotKey(sceneID, n)] = s
	}
}

// SaveTimeState writes ts for sceneID to the Temporary location.
func (m *Manager) SaveTimeState(ctx context.Context, sceneID string, ts TimeState) error {
	if sceneID == "" {
		return ErrEmptySceneID
	}
	b, err := m.tc.Encode(ts)
	if err != nil {
		return fmt.Errorf("savemanager: encode time state: %w", err)
	}
	return m.put(ctx, Temporary, timeKey(sceneID), wire.KindTime, b)
}

func (m *Manager) LoadTimeState(ctx context.Context, sceneID string) (TimeState, bool, error) {
	b, ok, err := m.get(ctx, Temporary, timeKey(sceneID), wire.KindTime)
	if err != nil || !ok {
		return TimeState{}, false, err
	}
	ts, err := m.tc.Decode(b)
	if err != nil {
		m.log.Warn("dropping undecodable time state", sceneshare.Fields{"scene": sceneID, "err": err})
		_ = m.p.Del(ctx, nsKey(Temporary, timeKey(sceneID)))
		return TimeState{}, false, nil
	}
	return ts, true, nil
}

func (m *Manager) sessionKeys(ctx context.Context) ([]string, error) {
	if l, ok := m.p.(provider.Lister); ok {
		nks, err := l.Keys(ctx, sesNS+slotPrefix)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(nks))
		for _, nk := range nks {
			keys = append(keys, strings.TrimPrefix(nk, sesNS))
		}
		return keys, nil
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.written))
	for k := range m.written {
		if strings.HasPrefix(k, slotPrefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Export bundles every Session save slot.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	keys, err := m.sessionKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("savemanager: list keys: %w", err)
	}
	fields := make(map[string]*structpb.Value, len(keys))
	for _, k := range keys {
		s, ok, err := m.LoadStateFromLocation(ctx, k, Session)
		if err != nil {
			return nil, err
		}
		if ok {
			fields[k] = structpb.NewStringValue(s)
		}
	}
	b, err := m.bundles.Encode(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("savemanager: encode export: %w", err)
	}
	return wire.EncodeRecord(wire.KindExport, uint64(m.now().UnixMilli()), b), nil
}

// Import writes every save slot of an Export bundle into Session and returns
// how many were imported. Entries that are not save slots are skipped.
func (m *Manager) Import(ctx context.Context, b []byte) (int, error) {
	_, payload, err := wire.DecodeRecord(b, wire.KindExport)
	if err != nil {
		return 0, fmt.Errorf("savemanager: import: %w", err)
	}
	st, err := m.bundles.Decode(payload)
	if err != nil {
		return 0, fmt.Errorf("savemanager: import: %w", err)
	}
	keys := make([]string, 0, len(st.GetFields()))
	for k := range st.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 0
	for _, k := range keys {
		if _, _, ok := ParseSlotKey(k); !ok {
			m.log.Debug("import: skipping key", sceneshare.Fields{"key": k})
			continue
		}
		sv, ok := st.Fields[k].GetKind().(*structpb.Value_StringValue)
		if !ok {
			continue
		}
		if err := m.SaveState(ctx, k, sv.StringValue); err != nil {
			return n, err
		}
		n++
	}
	m.log.Info("imported save states", sceneshare.Fields{"count": n})
	return n, nil
}

// Close closes the provider.
func (m *Manager) Close(ctx context.Context) error {
	return m.p.Close(ctx)
}

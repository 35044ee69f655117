package hue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RefreshParts selects which bridge resources a refresh fetches.
type RefreshParts uint8

const (
	RefreshBridge RefreshParts = 1 << iota
	RefreshLights
	RefreshGroups
	RefreshScenes

	RefreshAll = RefreshBridge | RefreshLights | RefreshGroups | RefreshScenes
)

// ParseRefreshParts maps config names (bridge, lights, groups, scenes).
func ParseRefreshParts(names []string) (RefreshParts, error) {
	var parts RefreshParts
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "bridge", "config":
			parts |= RefreshBridge
		case "lights":
			parts |= RefreshLights
		case "groups":
			parts |= RefreshGroups
		case "scenes":
			parts |= RefreshScenes
		case "all":
			parts |= RefreshAll
		default:
			return 0, fmt.Errorf("unknown refresh part %q", n)
		}
	}
	return parts, nil
}

// Timings are the poll intervals and tick-count timeouts of the async
// operations.
type Timings struct {
	UpdateCheckInterval time.Duration
	UpdateCheckTimeout  time.Duration
	UpdateApplyInterval time.Duration
	UpdateApplyTimeout  time.Duration
	SearchInterval      time.Duration
	SearchTimeout       time.Duration
}

// DefaultTimings match the bridge's documented behavior.
func DefaultTimings() Timings {
	return Timings{
		UpdateCheckInterval: 5 * time.Second,
		UpdateCheckTimeout:  5 * time.Minute,
		UpdateApplyInterval: 1 * time.Second,
		UpdateApplyTimeout:  15 * time.Minute,
		SearchInterval:      1 * time.Second,
		SearchTimeout:       65 * time.Second,
	}
}

// Options configure a Session.
type Options struct {
	Address  string
	Username string
	UseHTTPS bool

	// RefreshInterval of zero disables the periodic refresh.
	RefreshInterval time.Duration
	RefreshParts    RefreshParts
	// BridgeRefreshMinute is the minute of day for the daily config refresh;
	// negative disables it.
	BridgeRefreshMinute int

	SortOrder             SortOrder
	DefaultTransitionTime int
	RampDurations         RampDurations
	Timings               Timings
	ColorConverter        ColorConverter
}

// DefaultOptions returns options with every optional field set.
func DefaultOptions(address, username string) Options {
	return Options{
		Address:               address,
		Username:              username,
		RefreshParts:          RefreshLights | RefreshGroups | RefreshScenes,
		BridgeRefreshMinute:   180,
		SortOrder:             SortByName,
		DefaultTransitionTime: NoTransitionTime,
		RampDurations:         DefaultRampDurations(),
		Timings:               DefaultTimings(),
		ColorConverter:        RGBToXY,
	}
}

// Session mirrors one bridge. Locks are always taken in the order registry,
// refreshMu, lifeMu. A light's ramp lock nests inside refreshMu.
type Session struct {
	id        uuid.UUID
	transport Transport
	publisher Publisher
	registry  *Registry
	opts      Options

	// refreshMu guards the collections, config and every entity field.
	refreshMu sync.Mutex
	lights    *Collection[*LightBulb]
	groups    *Collection[*Group]
	scenes    *Collection[*Scene]
	config    *BridgeConfiguration
	search    searchState

	// lifeMu guards timers and the session's own identity fields.
	lifeMu      sync.Mutex
	address     string
	username    string
	ctx         context.Context
	cancel      context.CancelFunc
	refreshTask *periodicTask
	dailyTimer  *time.Timer
	update      tracker
	searching   tracker

	initialized atomic.Bool
}

// NewSession creates an uninitialized session. registry may be nil for a
// session that is not shared.
func NewSession(opts Options, transport Transport, publisher Publisher, registry *Registry) *Session {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if opts.ColorConverter == nil {
		opts.ColorConverter = RGBToXY
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	opts.RampDurations = opts.RampDurations.withDefaults()

	return &Session{
		id:        uuid.New(),
		transport: transport,
		publisher: publisher,
		registry:  registry,
		opts:      opts,
		lights:    newLightCollection(opts.SortOrder),
		groups:    newGroupCollection(),
		scenes:    newSceneCollection(),
		config:    &BridgeConfiguration{},
		address:   opts.Address,
		username:  opts.Username,
		ctx:       context.Background(),
		update:    tracker{name: "swupdate"},
		searching: tracker{name: "search"},
	}
}

// ID is unique per session instance.
func (s *Session) ID() string { return s.id.String() }

// Address returns the bridge host.
func (s *Session) Address() string {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.address
}

// Username returns the whitelisted credential.
func (s *Session) Username() string {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.username
}

// Initialized reports whether Initialize completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// SetAddress points the session at another bridge. An initialized session
// is torn down first.
func (s *Session) SetAddress(address, username string) {
	if s.initialized.Load() {
		s.Uninitialize()
	}
	s.lifeMu.Lock()
	s.address = address
	s.username = username
	s.lifeMu.Unlock()
}

// Initialize loads the config, verifies the username is whitelisted, loads
// lights, groups and scenes, starts the background refresh and registers
// the session.
func (s *Session) Initialize(ctx context.Context) error {
	if s.registry != nil {
		s.registry.mu.Lock()
		defer s.registry.mu.Unlock()
	}
	return s.initialize(ctx)
}

// initialize expects the registry lock, if any, to be held.
func (s *Session) initialize(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}

	s.refreshMu.Lock()
	changes, err := s.refreshLocked(ctx, RefreshBridge)
	if err == nil && !s.config.IsWhitelisted(s.Username()) {
		err = ErrNotAuthenticated
	}
	if err == nil {
		var more refreshChanges
		more, err = s.refreshLocked(ctx, RefreshLights|RefreshGroups|RefreshScenes)
		changes.add(more)
	}
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		return err
	}

	s.lifeMu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.startRefreshLocked()
	s.armDailyRefreshLocked()
	s.lifeMu.Unlock()

	s.initialized.Store(true)
	if s.registry != nil {
		s.registry.registerLocked(s)
	}

	changes.emit(s)
	log.Info().
		Str("bridge", s.Address()).
		Int("lights", len(changes.lights)).
		Int("groups", len(changes.groups)).
		Int("scenes", len(changes.scenes)).
		Msg("Bridge session initialized")
	return nil
}

// Uninitialize stops every timer, clears all state and unregisters.
func (s *Session) Uninitialize() {
	if s.registry != nil {
		s.registry.mu.Lock()
		defer s.registry.mu.Unlock()
	}
	s.uninitialize()
}

// uninitialize expects the registry lock, if any, to be held.
func (s *Session) uninitialize() {
	s.refreshMu.Lock()

	s.lifeMu.Lock()
	if s.refreshTask != nil {
		s.refreshTask.Stop()
		s.refreshTask = nil
	}
	if s.dailyTimer != nil {
		s.dailyTimer.Stop()
		s.dailyTimer = nil
	}
	s.update.stopLocked()
	s.searching.stopLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.lifeMu.Unlock()

	for _, l := range s.lights.items {
		stopAllRamps(l)
	}
	s.lights.Clear()
	s.groups.Clear()
	s.scenes.Clear()
	*s.config = BridgeConfiguration{}
	s.search = searchState{}
	s.refreshMu.Unlock()

	wasInitialized := s.initialized.Swap(false)
	if s.registry != nil {
		s.registry.unregisterLocked(s)
	}
	if wasInitialized {
		log.Info().Str("bridge", s.Address()).Msg("Bridge session uninitialized")
	}
}

// Refresh fetches the selected parts and raises one change event per
// affected entity once every merge is done.
func (s *Session) Refresh(ctx context.Context, parts RefreshParts) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	changes, err := s.refreshLocked(ctx, parts)
	s.refreshMu.Unlock()

	changes.emit(s)
	if err != nil {
		s.emitError(err)
		return err
	}
	return nil
}

func (s *Session) checkInitialized() error {
	if !s.initialized.Load() {
		s.emitError(ErrNotInitialized)
		return ErrNotInitialized
	}
	return nil
}

// refreshChanges collects what one refresh touched.
type refreshChanges struct {
	config bool
	lights []*LightBulb
	groups []*Group
	scenes []*Scene
}

func (c *refreshChanges) add(o refreshChanges) {
	c.config = c.config || o.config
	c.lights = append(c.lights, o.lights...)
	c.groups = append(c.groups, o.groups...)
	c.scenes = append(c.scenes, o.scenes...)
}

func (c refreshChanges) emit(s *Session) {
	if c.config {
		s.emitConfigChanged()
	}
	for _, l := range c.lights {
		s.emitLightChanged(l)
	}
	for _, g := range c.groups {
		s.emitGroupChanged(g)
	}
	for _, sc := range c.scenes {
		s.emitSceneChanged(sc)
	}
}

// refreshLocked expects refreshMu to be held. Parts are fetched in a fixed
// order and the first failure stops the rest.
func (s *Session) refreshLocked(ctx context.Context, parts RefreshParts) (refreshChanges, error) {
	var changes refreshChanges

	if parts&RefreshBridge != 0 {
		changed, err := s.refreshConfigLocked(ctx)
		if err != nil {
			return changes, err
		}
		changes.config = changed
	}
	if parts&RefreshLights != 0 {
		body, err := s.get(ctx, "lights")
		if err != nil {
			return changes, err
		}
		changed, removed, err := s.lights.Sync(body)
		if err != nil {
			return changes, err
		}
		for _, l := range removed {
			stopAllRamps(l)
		}
		changes.lights = changed
	}
	if parts&RefreshGroups != 0 {
		body, err := s.get(ctx, "groups")
		if err != nil {
			return changes, err
		}
		changed, _, err := s.groups.Sync(body)
		if err != nil {
			return changes, err
		}
		changes.groups = changed
	}
	if parts&RefreshScenes != 0 {
		body, err := s.get(ctx, "scenes")
		if err != nil {
			return changes, err
		}
		changed, _, err := s.scenes.Sync(body)
		if err != nil {
			return changes, err
		}
		changes.scenes = changed
	}
	return changes, nil
}

// refreshConfigLocked merges the bridge config without raising events.
func (s *Session) refreshConfigLocked(ctx context.Context) (bool, error) {
	body, err := s.get(ctx, "config")
	if err != nil {
		return false, err
	}
	var fresh BridgeConfiguration
	if err := json.Unmarshal([]byte(body), &fresh); err != nil {
		return false, fmt.Errorf("failed to decode config: %w", err)
	}
	return s.config.UpdateFrom(&fresh), nil
}

// refreshLightLocked re-fetches one light.
func (s *Session) refreshLightLocked(ctx context.Context, id string) (*LightBulb, bool, error) {
	body, err := s.get(ctx, "lights/"+id)
	if err != nil {
		return nil, false, err
	}
	return s.lights.SyncSingle(id, body)
}

// refreshSceneLocked re-fetches one scene.
func (s *Session) refreshSceneLocked(ctx context.Context, id string) (*Scene, bool, error) {
	body, err := s.get(ctx, "scenes/"+id)
	if err != nil {
		return nil, false, err
	}
	return s.scenes.SyncSingle(id, body)
}

// startRefreshLocked expects lifeMu to be held.
func (s *Session) startRefreshLocked() {
	if s.opts.RefreshInterval <= 0 || s.opts.RefreshParts == 0 {
		return
	}
	parts := s.opts.RefreshParts
	ctx := s.ctx
	s.refreshTask = startPeriodic("refresh", s.opts.RefreshInterval, func(*periodicTask) {
		_ = s.Refresh(ctx, parts)
	})
}

// armDailyRefreshLocked expects lifeMu to be held.
func (s *Session) armDailyRefreshLocked() {
	if s.opts.BridgeRefreshMinute < 0 {
		return
	}
	wait := untilMinuteOfDay(time.Now(), s.opts.BridgeRefreshMinute)
	ctx := s.ctx
	s.dailyTimer = time.AfterFunc(wait, func() {
		_ = s.Refresh(ctx, RefreshBridge)
		s.lifeMu.Lock()
		defer s.lifeMu.Unlock()
		if s.initialized.Load() && ctx.Err() == nil {
			s.armDailyRefreshLocked()
		}
	})
	log.Debug().Dur("in", wait).Msg("Daily bridge refresh armed")
}

// untilMinuteOfDay returns the wait until the next local occurrence of
// minute past midnight, always in the future.
func untilMinuteOfDay(now time.Time, minute int) time.Duration {
	minute %= 24 * 60
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(time.Duration(minute) * time.Minute)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// backgroundContext is cancelled by Uninitialize.
func (s *Session) backgroundContext() context.Context {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.ctx
}

func (s *Session) url(path string) string {
	s.lifeMu.Lock()
	address, username := s.address, s.username
	s.lifeMu.Unlock()
	return apiURL(address, username, s.opts.UseHTTPS, path)
}

// get reads a resource. Error-only array responses become a *BridgeError.
func (s *Session) get(ctx context.Context, path string) (string, error) {
	body, err := s.transport.Get(ctx, s.url(path))
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", path, err)
	}
	if be := ErrorResponse(body); be != nil {
		return "", be
	}
	return body, nil
}

func (s *Session) put(ctx context.Context, path string, payload interface{}) (Results, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}
	resp, err := s.transport.Put(ctx, s.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to put %s: %w", path, err)
	}
	return ParseResults(resp)
}

func (s *Session) post(ctx context.Context, path string, payload interface{}) (Results, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}
	resp, err := s.transport.Post(ctx, s.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", path, err)
	}
	return ParseResults(resp)
}

func (s *Session) delete(ctx context.Context, path string) (Results, error) {
	resp, err := s.transport.Delete(ctx, s.url(path))
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return ParseResults(resp)
}

func encodeBody(payload interface{}) (string, error) {
	if payload == nil {
		return "", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode body: %w", err)
	}
	return string(data), nil
}

// Lights returns the lights in collection order.
func (s *Session) Lights() []*LightBulb {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.lights.Items()
}

// Light returns the light at index.
func (s *Session) Light(index int) (*LightBulb, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.lights.At(index)
}

// LightByID looks a light up by bridge ID.
func (s *Session) LightByID(id string) (*LightBulb, bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.lights.Get(id)
}

// LightByUniqueID looks a light up by hardware id.
func (s *Session) LightByUniqueID(uniqueID string) (*LightBulb, bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.lights.GetByUniqueKey(uniqueID)
}

// Groups returns the groups in bridge order.
func (s *Session) Groups() []*Group {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.groups.Items()
}

// Scenes returns the scenes in bridge order.
func (s *Session) Scenes() []*Scene {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.scenes.Items()
}

// SceneByID looks a scene up by bridge ID.
func (s *Session) SceneByID(id string) (*Scene, bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.scenes.Get(id)
}

// Config returns the live bridge configuration.
func (s *Session) Config() *BridgeConfiguration {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.config
}

package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kefhub/kef-hub-go/internal/apperrors"
	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// ManagerOptions configures a device manager.
type ManagerOptions struct {
	Repository        *Repository
	Cache             *StateCache
	History           TransitionRecorder
	Audit             AuditRecorder
	Logger            *log.Logger
	PollInterval      time.Duration
	RetryPollInterval time.Duration
	FailureThreshold  int
	SpeakerTimeout    time.Duration

	// ClientFactory overrides speaker client construction, for tests.
	ClientFactory func(ip string, port int) *kef.Client
}

// Manager owns the paired-device registry: one record and one poller per
// device. The manager serves concurrent HTTP while each poller remains the
// sole writer of its own poll state.
type Manager struct {
	repo             *Repository
	cache            *StateCache
	history          TransitionRecorder
	audit            AuditRecorder
	log              *log.Logger
	normalInterval   time.Duration
	retryInterval    time.Duration
	failureThreshold int
	newClient        func(ip string, port int) *kef.Client

	mu      sync.RWMutex
	pollers map[string]*poller
	sinks   []EventSink
	baseCtx context.Context
}

// NewManager builds a manager. Call Start before serving requests.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := opts.ClientFactory
	if factory == nil {
		timeout := opts.SpeakerTimeout
		factory = func(ip string, port int) *kef.Client {
			return kef.NewClient(kef.Endpoint{Host: ip, Port: port, Timeout: timeout})
		}
	}
	return &Manager{
		repo:             opts.Repository,
		cache:            opts.Cache,
		history:          opts.History,
		audit:            opts.Audit,
		log:              logger,
		normalInterval:   opts.PollInterval,
		retryInterval:    opts.RetryPollInterval,
		failureThreshold: opts.FailureThreshold,
		newClient:        factory,
		pollers:          make(map[string]*poller),
		baseCtx:          context.Background(),
	}
}

// AddSink registers an event sink. Call before Start.
func (m *Manager) AddSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// recordAudit writes a trail entry best-effort: a full trail never gates a
// control operation.
func (m *Manager) recordAudit(deviceID, action, outcome string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.audit.RecordAction(ctx, deviceID, action, outcome, detail); err != nil {
		m.log.Printf("audit write failed device=%s action=%s err=%v", deviceID, action, err)
	}
}

func (m *Manager) publishEvent(event Event) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, sink := range sinks {
		sink.Publish(event)
	}
}

// Start loads all persisted devices and spins up their pollers.
func (m *Manager) Start(ctx context.Context) error {
	records, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	for _, record := range records {
		// Persisted identity may predate hub downtime; the first successful
		// poll refreshes it.
		m.startPoller(record, false)
	}
	m.log.Printf("device manager started devices=%d", len(records))
	return nil
}

// Stop halts every poller and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	pollers := make([]*poller, 0, len(m.pollers))
	for _, p := range m.pollers {
		pollers = append(pollers, p)
	}
	m.pollers = make(map[string]*poller)
	m.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
}

// startPoller spins up the device's poll loop. identityKnown marks the
// identity as just-fetched so the first available transition does not fetch
// it again.
func (m *Manager) startPoller(record Record, identityKnown bool) {
	deviceID := record.DeviceID
	client := m.newClient(record.IP, record.Port)

	callbacks := pollerCallbacks{
		storeState: func(state State) {
			m.cache.Set(deviceID, state)
		},
		publish: m.publishEvent,
		transition: func(state AvailabilityState, detail string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if m.history != nil {
				if err := m.history.RecordTransition(ctx, deviceID, string(state), detail); err != nil {
					m.log.Printf("record transition failed device=%s err=%v", deviceID, err)
				}
			}
			if state == StateAvailable {
				if err := m.repo.TouchLastConnected(ctx, deviceID, time.Now()); err != nil {
					m.log.Printf("touch last connected failed device=%s err=%v", deviceID, err)
				}
				// A reconnect re-reads the identity: the speaker may have
				// been renamed or updated while it was away. Skipped when a
				// settings-change probe just performed the same fetch.
				if p, ok := m.pollerFor(deviceID); ok && !p.consumeIdentityFresh() {
					m.refreshIdentity(ctx, deviceID, p.clientRef())
				}
			}
		},
	}

	interval := m.normalInterval
	if record.PollIntervalMs > 0 {
		interval = time.Duration(record.PollIntervalMs) * time.Millisecond
	}

	p := newPoller(record, client, interval, m.retryInterval, m.failureThreshold, callbacks, m.log)
	if identityKnown {
		p.markIdentityFresh()
	}

	m.mu.Lock()
	m.pollers[deviceID] = p
	baseCtx := m.baseCtx
	m.mu.Unlock()

	p.start(baseCtx)
}

// refreshIdentity reads the speaker's identity and persists it. An
// all-defaults answer means every probe failed and is not written.
func (m *Manager) refreshIdentity(ctx context.Context, deviceID string, client *kef.Client) {
	info := client.GetSpeakerInfo(ctx)
	if !info.Identified() {
		return
	}
	if err := m.repo.UpdateIdentity(ctx, deviceID, info); err != nil {
		m.log.Printf("identity refresh failed device=%s err=%v", deviceID, err)
	}
}

func (m *Manager) pollerFor(deviceID string) (*poller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pollers[deviceID]
	return p, ok
}

func (m *Manager) view(record Record) Device {
	availability := StateConnecting
	if p, ok := m.pollerFor(record.DeviceID); ok {
		availability = p.availabilityState()
	}
	return Device{
		Record:       record,
		Availability: availability,
		Capabilities: reconcileCapabilities(models.Lookup(record.ModelID).Capabilities),
	}
}

// Pair verifies the speaker answers, reads its identity, detects the model
// and persists the new device. An unreachable speaker rejects the pairing:
// identity and model detection need a live endpoint.
func (m *Manager) Pair(ctx context.Context, req PairRequest) (Device, error) {
	if strings.TrimSpace(req.IP) == "" {
		return Device{}, apperrors.NewValidationError("ip is required", nil)
	}
	port := req.Port
	if port == 0 {
		port = kef.DefaultPort
	}
	if port < 1 || port > 65535 {
		return Device{}, apperrors.NewValidationError("port out of range", map[string]any{"port": port})
	}

	client := m.newClient(req.IP, port)
	if !client.TestConnection(ctx) {
		return Device{}, apperrors.NewSpeakerUnreachableError(
			fmt.Sprintf("no speaker answered at %s:%d", req.IP, port))
	}

	info := client.GetSpeakerInfo(ctx)

	modelID := models.Detect(info.Model, info.SerialNumber)
	if req.ModelID != "" {
		requested := models.ModelID(req.ModelID)
		if models.Lookup(requested).ID != requested {
			return Device{}, apperrors.NewValidationError("unknown model id", map[string]any{"model_id": req.ModelID})
		}
		modelID = requested
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = info.Name
	}

	now := time.Now().UTC()
	record := Record{
		DeviceID:        uuid.NewString(),
		Name:            name,
		ModelID:         modelID,
		IP:              req.IP,
		Port:            port,
		PollIntervalMs:  req.PollIntervalMs,
		SpeakerName:     info.Name,
		SpeakerModel:    info.Model,
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		LastConnectedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if record.PollIntervalMs <= 0 {
		record.PollIntervalMs = int(m.normalInterval / time.Millisecond)
	}

	if err := m.repo.Create(ctx, record); err != nil {
		return Device{}, apperrors.NewInternalError("failed to persist device")
	}

	m.startPoller(record, true)
	m.log.Printf("paired device=%s model=%s endpoint=%s:%d", record.DeviceID, modelID, req.IP, port)
	m.recordAudit(record.DeviceID, "pair", "ok", map[string]any{
		"endpoint": fmt.Sprintf("%s:%d", req.IP, port),
		"model_id": string(modelID),
	})
	return m.view(record), nil
}

// List returns every paired device.
func (m *Manager) List(ctx context.Context) ([]Device, error) {
	records, err := m.repo.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list devices")
	}
	views := make([]Device, 0, len(records))
	for _, record := range records {
		views = append(views, m.view(record))
	}
	return views, nil
}

// Get returns one paired device.
func (m *Manager) Get(ctx context.Context, deviceID string) (Device, error) {
	record, err := m.repo.GetByID(ctx, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, apperrors.NewDeviceNotFoundError(deviceID)
	}
	if err != nil {
		return Device{}, apperrors.NewInternalError("failed to load device")
	}
	return m.view(record), nil
}

// Delete unpairs a device: its poller stops, its cache entry is dropped and
// its record (with history, via cascade) is removed.
func (m *Manager) Delete(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	p, ok := m.pollers[deviceID]
	if ok {
		delete(m.pollers, deviceID)
	}
	m.mu.Unlock()
	if ok {
		p.stop()
	}

	m.cache.Delete(deviceID)

	err := m.repo.Delete(ctx, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewDeviceNotFoundError(deviceID)
	}
	if err != nil {
		return apperrors.NewInternalError("failed to delete device")
	}
	m.recordAudit(deviceID, "unpair", "ok", nil)
	return nil
}

// UpdateSettings applies a settings change. The update is always accepted:
// an endpoint change swaps the poller's client and probes it inline, but a
// failed probe only logs, it never rejects. The poller reconverges on the
// next cycles.
func (m *Manager) UpdateSettings(ctx context.Context, deviceID string, update SettingsUpdate) (Device, error) {
	record, err := m.repo.GetByID(ctx, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, apperrors.NewDeviceNotFoundError(deviceID)
	}
	if err != nil {
		return Device{}, apperrors.NewInternalError("failed to load device")
	}

	endpointChanged := false
	intervalChanged := false

	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return Device{}, apperrors.NewValidationError("name must not be empty", nil)
		}
		record.Name = strings.TrimSpace(*update.Name)
	}
	if update.IP != nil {
		if strings.TrimSpace(*update.IP) == "" {
			return Device{}, apperrors.NewValidationError("ip must not be empty", nil)
		}
		if *update.IP != record.IP {
			record.IP = *update.IP
			endpointChanged = true
		}
	}
	if update.Port != nil {
		if *update.Port < 1 || *update.Port > 65535 {
			return Device{}, apperrors.NewValidationError("port out of range", map[string]any{"port": *update.Port})
		}
		if *update.Port != record.Port {
			record.Port = *update.Port
			endpointChanged = true
		}
	}
	if update.PollIntervalMs != nil {
		if *update.PollIntervalMs <= 0 {
			return Device{}, apperrors.NewValidationError("poll interval must be positive", nil)
		}
		if *update.PollIntervalMs != record.PollIntervalMs {
			record.PollIntervalMs = *update.PollIntervalMs
			intervalChanged = true
		}
	}

	if err := m.repo.Update(ctx, record); err != nil {
		return Device{}, apperrors.NewInternalError("failed to update device")
	}

	if p, ok := m.pollerFor(deviceID); ok {
		if endpointChanged {
			client := m.newClient(record.IP, record.Port)
			if client.TestConnection(ctx) {
				m.refreshIdentity(ctx, deviceID, client)
				p.markIdentityFresh()
			} else {
				m.log.Printf("new endpoint unreachable device=%s endpoint=%s:%d", deviceID, record.IP, record.Port)
			}
			p.swapClient(client)
		}
		if intervalChanged {
			p.setNormalInterval(time.Duration(record.PollIntervalMs) * time.Millisecond)
		}
	}

	m.recordAudit(deviceID, "settings_update", "ok", map[string]any{
		"endpoint_changed": endpointChanged,
	})
	return m.view(record), nil
}

// State returns the latest polled state for a device. When the cache holds
// no fresh entry the result carries only the availability verdict.
func (m *Manager) State(ctx context.Context, deviceID string) (State, error) {
	if _, err := m.Get(ctx, deviceID); err != nil {
		return State{}, err
	}
	if state, ok := m.cache.Get(deviceID); ok {
		return state, nil
	}

	availability := StateConnecting
	if p, ok := m.pollerFor(deviceID); ok {
		availability = p.availabilityState()
	}
	return State{DeviceID: deviceID, Availability: availability}, nil
}

// Command dispatches one capability command to a device. Validation that
// needs no speaker roundtrip (source support, value types) happens before
// any transport call.
func (m *Manager) Command(ctx context.Context, deviceID, capability string, value any) error {
	record, err := m.repo.GetByID(ctx, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewDeviceNotFoundError(deviceID)
	}
	if err != nil {
		return apperrors.NewInternalError("failed to load device")
	}

	p, ok := m.pollerFor(deviceID)
	if !ok {
		return apperrors.NewDeviceOfflineError(deviceID)
	}
	if p.availabilityState() == StateUnavailable {
		return apperrors.NewDeviceOfflineError(deviceID)
	}
	client := p.clientRef()

	if err := m.dispatchCommand(ctx, record, client, capability, value); err != nil {
		translated := translateSpeakerError(err)
		m.recordAudit(deviceID, "command", "failed", map[string]any{
			"capability": capability,
			"error":      string(apperrors.EnsureAppError(translated).Code),
		})
		return translated
	}
	m.recordAudit(deviceID, "command", "ok", map[string]any{"capability": capability})

	// Fold the command's effect into the cached state promptly.
	p.kick()
	return nil
}

func (m *Manager) dispatchCommand(ctx context.Context, record Record, client *kef.Client, capability string, value any) error {
	switch capability {
	case CapOnOff:
		on, ok := boolValue(value)
		if !ok {
			return apperrors.NewValidationError("onoff expects a boolean value", nil)
		}
		return client.SetPowerState(ctx, on)

	case CapVolumeSet:
		level, ok := numberValue(value)
		if !ok {
			return apperrors.NewValidationError("volume_set expects a numeric value", nil)
		}
		return client.SetVolume(ctx, level)

	case CapVolumeMute:
		muted, ok := boolValue(value)
		if !ok {
			return apperrors.NewValidationError("volume_mute expects a boolean value", nil)
		}
		return client.SetMuted(ctx, muted)

	case CapSourceInput:
		source, ok := stringValue(value)
		if !ok {
			return apperrors.NewValidationError("source_input expects a string value", nil)
		}
		source = strings.ToLower(strings.TrimSpace(source))
		if !models.IsSourceSupported(record.ModelID, source) {
			return apperrors.NewAppError(apperrors.ErrorCodeSourceNotSupported,
				fmt.Sprintf("source %q is not supported by model %s", source, record.ModelID),
				400, map[string]any{"source": source, "model_id": record.ModelID})
		}
		return client.SetSource(ctx, kef.Source(source))

	case CapSpeakerPlaying:
		playing, ok := boolValue(value)
		if !ok {
			return apperrors.NewValidationError("speaker_playing expects a boolean value", nil)
		}
		if playing {
			return client.Play(ctx)
		}
		return client.Pause(ctx)

	case CapSpeakerNext:
		return client.NextTrack(ctx)

	case CapSpeakerPrev:
		return client.PreviousTrack(ctx)

	case CapSpeakerShuffle:
		enabled, ok := boolValue(value)
		if !ok {
			return apperrors.NewValidationError("speaker_shuffle expects a boolean value", nil)
		}
		client.SetShuffleMode(enabled)
		return nil

	case CapSpeakerRepeat:
		mode, ok := stringValue(value)
		if !ok {
			return apperrors.NewValidationError("speaker_repeat expects a string value", nil)
		}
		mode = strings.ToLower(strings.TrimSpace(mode))
		switch mode {
		case "none", "track", "playlist":
			client.SetRepeatMode(mode)
			return nil
		default:
			return apperrors.NewValidationError("speaker_repeat expects none, track or playlist",
				map[string]any{"mode": mode})
		}

	default:
		return apperrors.NewValidationError("unknown capability", map[string]any{"capability": capability})
	}
}

// translateSpeakerError maps transport and speaker failures onto the API
// error taxonomy.
func translateSpeakerError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if kef.IsOperationNotSupported(err) {
		var deviceErr *kef.DeviceError
		errors.As(err, &deviceErr)
		return apperrors.NewOperationRejectedError(deviceErr.Message)
	}

	var volumeErr *kef.VolumeReadError
	if errors.As(err, &volumeErr) {
		return apperrors.NewAppError(apperrors.ErrorCodeVolumeReadFailed, volumeErr.Error(), 502, nil)
	}

	var transportErr *kef.TransportError
	if errors.As(err, &transportErr) {
		if isTimeout(transportErr.Err) {
			return apperrors.NewAppError(apperrors.ErrorCodeSpeakerTimeout,
				"The speaker did not answer in time", 504, nil)
		}
		return apperrors.NewSpeakerUnreachableError("The speaker could not be reached")
	}

	var deviceErr *kef.DeviceError
	if errors.As(err, &deviceErr) {
		return apperrors.NewConflictError(deviceErr.Error(), nil)
	}

	return apperrors.NewInternalError("Command failed")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func boolValue(value any) (bool, bool) {
	b, ok := value.(bool)
	return b, ok
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringValue(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

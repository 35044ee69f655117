package hue

import (
	"context"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

// OperationResult is the outcome reported by the Begin* operations and by
// their completion events.
type OperationResult string

const (
	ResultStarted   OperationResult = "started"
	ResultCompleted OperationResult = "completed"
	ResultTimedOut  OperationResult = "timed_out"
	ResultFailed    OperationResult = "failed"

	ResultCheckOrUpdateAlreadyInProgress       OperationResult = "check_or_update_already_in_progress"
	ResultUpdateAlreadyAvailable               OperationResult = "update_already_available"
	ResultBridgeIsBusyAndCannotCheckForUpdates OperationResult = "bridge_is_busy_and_cannot_check_for_updates"
	ResultOldBridgeMustUseOfficialHueApp       OperationResult = "old_bridge_must_use_official_hue_app"
	ResultNotConnectedToHuePortal              OperationResult = "not_connected_to_hue_portal"
	ResultUpdateAlreadyDownloading             OperationResult = "update_already_downloading"
	ResultLostConnectionToHuePortal            OperationResult = "lost_connection_to_hue_portal"

	ResultUpdateStillDownloading             OperationResult = "update_still_downloading"
	ResultUpdateAlreadyBeingApplied          OperationResult = "update_already_being_applied"
	ResultNoUpdateAvailable                  OperationResult = "no_update_available"
	ResultTimedOutWaitingForUpdateToComplete OperationResult = "timed_out_waiting_for_update_to_complete"

	ResultSearchAlreadyInProgress OperationResult = "search_already_in_progress"
)

func (r OperationResult) String() string { return string(r) }

// BeginCheckForSoftwareUpdates asks the bridge to look for firmware on the
// portal and polls until the bridge clears checkforupdate.
func (s *Session) BeginCheckForSoftwareUpdates(ctx context.Context) OperationResult {
	if err := s.checkInitialized(); err != nil {
		return ResultFailed
	}

	s.refreshMu.Lock()
	result, configChanged := s.beginUpdateCheckLocked(ctx)
	s.refreshMu.Unlock()

	if configChanged {
		s.emitConfigChanged()
	}
	return result
}

func (s *Session) beginUpdateCheckLocked(ctx context.Context) (OperationResult, bool) {
	if s.trackerActive(&s.update) {
		return ResultCheckOrUpdateAlreadyInProgress, false
	}

	changed, err := s.refreshConfigLocked(ctx)
	if err != nil {
		s.emitError(err)
		return ResultFailed, false
	}

	sw := s.config.SoftwareUpdate
	switch {
	case sw.UpdateState == UpdateStateAvailableToApply:
		return ResultUpdateAlreadyAvailable, changed
	case sw.CheckForUpdate:
		return ResultBridgeIsBusyAndCannotCheckForUpdates, changed
	case !s.config.APIVersionAtLeast(1, 4):
		return ResultOldBridgeMustUseOfficialHueApp, changed
	case !s.config.PortalState.SignedOn:
		return ResultNotConnectedToHuePortal, changed
	case sw.UpdateState == UpdateStateDownloading:
		return ResultUpdateAlreadyDownloading, changed
	case sw.UpdateState != UpdateStateNoUpdate:
		return ResultBridgeIsBusyAndCannotCheckForUpdates, changed
	}

	body := map[string]interface{}{"swupdate": map[string]interface{}{"checkforupdate": true}}
	if err := s.writeConfigLocked(ctx, body); err != nil {
		s.emitError(err)
		return ResultFailed, changed
	}
	s.config.SoftwareUpdate.CheckForUpdate = true

	timings := s.opts.Timings
	s.lifeMu.Lock()
	s.startTrackerLocked(trackerRun{
		slot:       &s.update,
		interval:   timings.UpdateCheckInterval,
		timeout:    timings.UpdateCheckTimeout,
		completion: eventbus.EventTypeUpdateCheckCompleted,
		failed:     string(ResultFailed),
		poll:       s.pollUpdateCheck,
	})
	s.lifeMu.Unlock()
	return ResultStarted, true
}

// pollUpdateCheck ends the check when the bridge clears checkforupdate. A
// portal sign-off while checking is terminal.
func (s *Session) pollUpdateCheck(ctx context.Context, lastTick bool) (pollOutcome, error) {
	if _, err := s.refreshConfigLocked(ctx); err != nil {
		return pollOutcome{notify: s.emitConfigChanged}, err
	}
	out := pollOutcome{done: true, notify: s.emitConfigChanged}
	switch {
	case !s.config.PortalState.SignedOn:
		out.result = string(ResultLostConnectionToHuePortal)
	case !s.config.SoftwareUpdate.CheckForUpdate:
		out.result = string(ResultCompleted)
	case lastTick:
		// The bridge never confirmed; stop reporting a check in flight.
		s.config.SoftwareUpdate.CheckForUpdate = false
		out.result = string(ResultTimedOut)
	default:
		return pollOutcome{}, nil
	}
	return out, nil
}

// BeginApplySoftwareUpdates installs a downloaded update and polls until the
// bridge raises notify.
func (s *Session) BeginApplySoftwareUpdates(ctx context.Context) OperationResult {
	if err := s.checkInitialized(); err != nil {
		return ResultFailed
	}

	s.refreshMu.Lock()
	result, configChanged := s.beginUpdateApplyLocked(ctx)
	s.refreshMu.Unlock()

	if configChanged {
		s.emitConfigChanged()
	}
	return result
}

func (s *Session) beginUpdateApplyLocked(ctx context.Context) (OperationResult, bool) {
	if s.trackerActive(&s.update) {
		return ResultCheckOrUpdateAlreadyInProgress, false
	}

	changed, err := s.refreshConfigLocked(ctx)
	if err != nil {
		s.emitError(err)
		return ResultFailed, false
	}

	switch s.config.SoftwareUpdate.UpdateState {
	case UpdateStateDownloading:
		return ResultUpdateStillDownloading, changed
	case UpdateStateApplying:
		return ResultUpdateAlreadyBeingApplied, changed
	case UpdateStateNoUpdate:
		return ResultNoUpdateAvailable, changed
	}

	body := map[string]interface{}{"swupdate": map[string]interface{}{"updatestate": UpdateStateApplying}}
	if err := s.writeConfigLocked(ctx, body); err != nil {
		s.emitError(err)
		return ResultFailed, changed
	}
	s.config.SoftwareUpdate.UpdateState = UpdateStateApplying

	timings := s.opts.Timings
	s.lifeMu.Lock()
	s.startTrackerLocked(trackerRun{
		slot:       &s.update,
		interval:   timings.UpdateApplyInterval,
		timeout:    timings.UpdateApplyTimeout,
		completion: eventbus.EventTypeUpdateApplyCompleted,
		failed:     string(ResultFailed),
		poll:       s.pollUpdateApply,
	})
	s.lifeMu.Unlock()
	return ResultStarted, true
}

// pollUpdateApply acknowledges the notify flag once the update is in.
func (s *Session) pollUpdateApply(ctx context.Context, lastTick bool) (pollOutcome, error) {
	if _, err := s.refreshConfigLocked(ctx); err != nil {
		return pollOutcome{notify: s.emitConfigChanged}, err
	}
	out := pollOutcome{done: true, notify: s.emitConfigChanged}
	switch {
	case s.config.SoftwareUpdate.Notify:
		body := map[string]interface{}{"swupdate": map[string]interface{}{"notify": false}}
		if err := s.writeConfigLocked(ctx, body); err != nil {
			s.emitError(err)
		} else {
			s.config.SoftwareUpdate.Notify = false
		}
		out.result = string(ResultCompleted)
	case lastTick:
		out.result = string(ResultTimedOutWaitingForUpdateToComplete)
	default:
		return pollOutcome{}, nil
	}
	return out, nil
}

// writeConfigLocked PUTs a config body and fails on any bridge error entry.
func (s *Session) writeConfigLocked(ctx context.Context, body interface{}) error {
	results, err := s.put(ctx, "config", body)
	if err != nil {
		return err
	}
	return results.FirstError()
}

func (s *Session) trackerActive(t *tracker) bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return t.activeLocked()
}

// UpdateInProgress reports whether an update check or apply is being tracked.
func (s *Session) UpdateInProgress() bool {
	return s.trackerActive(&s.update)
}

// SearchInProgress reports whether a new-light search is being tracked.
func (s *Session) SearchInProgress() bool {
	return s.trackerActive(&s.searching)
}

package hue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

// searchState accumulates new light IDs across search ticks. Guarded by the
// refresh lock.
type searchState struct {
	seen  map[string]bool
	found []string
}

// BeginSearchForNewLights starts a bridge-side scan for new lights. Found
// lights raise light_found as they appear and are loaded once the scan ends.
func (s *Session) BeginSearchForNewLights(ctx context.Context) OperationResult {
	if err := s.checkInitialized(); err != nil {
		return ResultFailed
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.trackerActive(&s.searching) {
		return ResultSearchAlreadyInProgress
	}

	results, err := s.post(ctx, "lights", nil)
	if err == nil {
		err = results.FirstError()
	}
	if err == nil {
		if _, ok := results.Successes()["/lights"]; !ok {
			err = fmt.Errorf("%w: search was not acknowledged", ErrUnexpectedResponse)
		}
	}
	if err != nil {
		s.emitError(err)
		return ResultFailed
	}

	s.search = searchState{seen: make(map[string]bool)}

	timings := s.opts.Timings
	s.lifeMu.Lock()
	s.startTrackerLocked(trackerRun{
		slot:       &s.searching,
		interval:   timings.SearchInterval,
		timeout:    timings.SearchTimeout,
		completion: eventbus.EventTypeSearchCompleted,
		failed:     string(ResultFailed),
		poll:       s.pollSearch,
	})
	s.lifeMu.Unlock()
	return ResultStarted
}

// pollSearch reads lights/new. lastscan "active" keeps polling, "none"
// means the scan never ran, and a timestamp means it finished.
func (s *Session) pollSearch(ctx context.Context, lastTick bool) (pollOutcome, error) {
	body, err := s.get(ctx, "lights/new")
	if err != nil {
		return pollOutcome{}, err
	}
	members, err := decodeOrderedObject(body)
	if err != nil {
		return pollOutcome{}, err
	}

	lastScan := ""
	for _, m := range members {
		if m.Key == "lastscan" {
			if err := json.Unmarshal(m.Value, &lastScan); err != nil {
				return pollOutcome{}, fmt.Errorf("%w: lastscan: %v", ErrUnexpectedResponse, err)
			}
			continue
		}
		if s.search.seen[m.Key] {
			continue
		}
		var found struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(m.Value, &found); err != nil {
			log.Debug().Err(err).Str("light", m.Key).Msg("New light entry without a name")
		}
		s.search.seen[m.Key] = true
		s.search.found = append(s.search.found, m.Key)
		s.emitLightFound(m.Key, found.Name)
	}

	switch {
	case lastScan == "none":
		return pollOutcome{done: true, result: string(ResultFailed)}, nil
	case lastScan == "active" && !lastTick:
		return pollOutcome{}, nil
	}

	// Finished or timed out, both count as completed
	for _, id := range s.search.found {
		if _, _, err := s.refreshLightLocked(ctx, id); err != nil {
			s.emitError(err)
		}
	}
	s.lights.Resort()
	lights := s.lights.Items()
	return pollOutcome{
		done:   true,
		result: string(ResultCompleted),
		notify: func() {
			for _, l := range lights {
				s.emitLightChanged(l)
			}
		},
	}, nil
}

// FoundLights returns the IDs found by the current or last search.
func (s *Session) FoundLights() []string {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return append([]string(nil), s.search.found...)
}

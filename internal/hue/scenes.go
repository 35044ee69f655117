package hue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CreateScene stores the current state of lightIDs as a new scene and
// returns its ID.
func (s *Session) CreateScene(ctx context.Context, name string, lightIDs []string) (string, error) {
	if err := s.checkInitialized(); err != nil {
		return "", err
	}
	body := map[string]interface{}{
		"name":    name,
		"lights":  lightIDs,
		"recycle": false,
	}

	s.refreshMu.Lock()
	id, scene, err := s.createSceneLocked(ctx, body)
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		return "", err
	}
	if scene != nil {
		s.emitSceneChanged(scene)
	}
	log.Info().Str("scene", id).Str("name", name).Msg("Scene created")
	return id, nil
}

func (s *Session) createSceneLocked(ctx context.Context, body interface{}) (string, *Scene, error) {
	results, err := s.post(ctx, "scenes", body)
	if err != nil {
		return "", nil, err
	}
	if err := results.FirstError(); err != nil {
		return "", nil, err
	}
	raw, ok := results.Successes()["id"]
	if !ok {
		return "", nil, fmt.Errorf("%w: scene id missing", ErrUnexpectedResponse)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", nil, fmt.Errorf("%w: scene id: %v", ErrUnexpectedResponse, err)
	}
	scene, _, err := s.refreshSceneLocked(ctx, id)
	if err != nil {
		return id, nil, err
	}
	return id, scene, nil
}

// UpdateScene stores the lights' current state into the scene.
func (s *Session) UpdateScene(ctx context.Context, sceneID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	scene, changed, err := s.updateSceneLocked(ctx, sceneID)
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		return err
	}
	if changed {
		s.emitSceneChanged(scene)
	}
	return nil
}

func (s *Session) updateSceneLocked(ctx context.Context, sceneID string) (*Scene, bool, error) {
	if _, ok := s.scenes.Get(sceneID); !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
	}
	results, err := s.put(ctx, "scenes/"+sceneID, map[string]bool{"storelightstate": true})
	if err != nil {
		return nil, false, err
	}
	if err := results.FirstError(); err != nil {
		return nil, false, err
	}
	return s.refreshSceneLocked(ctx, sceneID)
}

// DeleteScene removes a scene from the bridge.
func (s *Session) DeleteScene(ctx context.Context, sceneID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	moved, err := s.deleteSceneLocked(ctx, sceneID)
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		return err
	}
	for _, sc := range moved {
		s.emitSceneChanged(sc)
	}
	return nil
}

func (s *Session) deleteSceneLocked(ctx context.Context, sceneID string) ([]*Scene, error) {
	if _, ok := s.scenes.Get(sceneID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
	}
	results, err := s.delete(ctx, "scenes/"+sceneID)
	if err != nil {
		return nil, err
	}
	if err := results.FirstError(); err != nil {
		return nil, err
	}
	if !results.HasSuccessText("/scenes/" + sceneID + " deleted") {
		return nil, fmt.Errorf("%w: scene %s not confirmed deleted", ErrUnexpectedResponse, sceneID)
	}

	_, moved, _ := s.scenes.Remove(sceneID)
	return moved, nil
}

// ActivateScene recalls a scene on all lights, then re-reads the lights it
// touched.
func (s *Session) ActivateScene(ctx context.Context, sceneID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	_, ok := s.scenes.Get(sceneID)
	s.refreshMu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
		s.emitError(err)
		return err
	}

	results, err := s.put(ctx, "groups/0/action", map[string]string{"scene": sceneID})
	if err == nil {
		err = results.FirstError()
	}
	if err != nil {
		s.emitError(err)
		return err
	}
	return s.Refresh(ctx, RefreshLights)
}

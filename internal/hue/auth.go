package hue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Authenticate registers a new whitelist user. The bridge's link button must
// have been pressed within the last 30 seconds, otherwise the returned error
// is a *BridgeError of type ErrorTypeLinkButtonNotSet.
func Authenticate(ctx context.Context, transport Transport, address string, useHTTPS bool, appName, deviceName string) (string, error) {
	if address == "" {
		return "", errors.New("bridge address is required")
	}
	if appName == "" || deviceName == "" {
		return "", errors.New("application and device names are required")
	}

	body, err := json.Marshal(map[string]string{
		"devicetype": truncate(appName, 20) + "#" + truncate(deviceName, 19),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode body: %w", err)
	}

	resp, err := transport.Post(ctx, apiURL(address, "", useHTTPS, ""), string(body))
	if err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}
	results, err := ParseResults(resp)
	if err != nil {
		return "", err
	}
	if err := results.FirstError(); err != nil {
		return "", err
	}

	raw, ok := results.Successes()["username"]
	if !ok {
		return "", fmt.Errorf("%w: username missing", ErrUnexpectedResponse)
	}
	var username string
	if err := json.Unmarshal(raw, &username); err != nil {
		return "", fmt.Errorf("%w: username: %v", ErrUnexpectedResponse, err)
	}
	log.Info().Str("bridge", address).Msg("New bridge user created")
	return username, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

package hue

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("session is not initialized")
	ErrNotAuthenticated   = errors.New("username is not on the bridge whitelist")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrUnknownLight       = errors.New("unknown light")
	ErrUnknownGroup       = errors.New("unknown group")
	ErrUnknownScene       = errors.New("unknown scene")
	ErrUnsupported        = errors.New("light does not support this operation")
	ErrInvalidColor       = errors.New("invalid color")
	ErrUnexpectedResponse = errors.New("unexpected bridge response")
)

// Bridge error codes with a user-facing translation.
const (
	ErrorTypeUnauthorizedUser  = 1
	ErrorTypeLinkButtonNotSet  = 101
	ErrorTypeResourceNotFound  = 3
	ErrorTypeParameterNotFound = 6
	ErrorTypeDeviceOff         = 201
)

// BridgeError is an error reported by the bridge in a result array.
type BridgeError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *BridgeError) isResult() {}

func (e *BridgeError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("bridge error %d at %s: %s", e.Type, e.Address, e.Description)
	}
	return fmt.Sprintf("bridge error %d: %s", e.Type, e.Description)
}

// UserMessage returns the text shown to a person operating the bridge.
func (e *BridgeError) UserMessage() string {
	switch e.Type {
	case ErrorTypeLinkButtonNotSet:
		return "The button on the Hue Bridge was not pressed within 30 seconds of attempting authentication."
	case ErrorTypeDeviceOff:
		return "The light is turned off and cannot be changed."
	default:
		return e.Description
	}
}

// IsUserError reports whether a person can resolve the error at the bridge.
func (e *BridgeError) IsUserError() bool {
	return e.Type == ErrorTypeLinkButtonNotSet
}

// ColorError reports a color string that is neither a known name nor hex.
type ColorError struct {
	Color string
}

func (e *ColorError) Error() string {
	return "Invalid color: " + e.Color
}

func (e *ColorError) Is(target error) bool {
	return target == ErrInvalidColor
}

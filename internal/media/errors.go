package media

import (
	"errors"
	"fmt"
)

// Device setup failure reasons. A *DeviceError matches its reason with errors.Is.
var (
	ErrDeviceEnumeration       = errors.New("device enumeration failed")
	ErrNoVideoDevice           = errors.New("no video input devices found")
	ErrStartInputFailed        = errors.New("start video input failed")
	ErrLocalTileCreationFailed = errors.New("local video tile creation failed")
	ErrInvalidTileID           = errors.New("invalid local video tile id")
	ErrRenderTargetMissing     = errors.New("render target missing")
	ErrBindFailed              = errors.New("bind video element failed")
)

var (
	// ErrSessionStopped is returned by operations on a handle that has been stopped.
	ErrSessionStopped = errors.New("session stopped")
	// ErrNotSharing is returned when content share is stopped while not sharing.
	ErrNotSharing = errors.New("content share not active")
)

// PermissionError reports that camera or microphone access was denied.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("camera/microphone permission denied: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// DeviceError reports a failed step of local video initialization.
type DeviceError struct {
	Reason error
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %v", e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

package attest

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/arkavo-org/ntdf-go/internal/claims"
	"github.com/arkavo-org/ntdf-go/internal/keystore"
)

const deviceIDEntry = "device-id"

// LocalProvider identifies the device from the OS plus a persisted
// random UUID. It cannot prove anything about device integrity, so its
// posture defaults to unknown and its identifiers are never attested.
type LocalProvider struct {
	store keystore.Store
	state claims.PlatformState
}

type LocalOption func(*LocalProvider)

// WithPlatformState overrides the reported integrity posture, for
// callers with their own jailbreak or debugger detection.
func WithPlatformState(state claims.PlatformState) LocalOption {
	return func(p *LocalProvider) { p.state = state }
}

func NewLocalProvider(store keystore.Store, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{store: store, state: claims.StateUnknown}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateDeviceID returns the stored device id, minting and
// persisting a fresh UUID on first use.
func (p *LocalProvider) GetOrCreateDeviceID() (DeviceID, error) {
	data, err := p.store.Get(deviceIDEntry)
	if err == nil {
		return DeviceID{Value: string(data)}, nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return DeviceID{}, fmt.Errorf("load device id: %w", err)
	}

	id := uuid.NewString()
	if err := p.store.Set(deviceIDEntry, []byte(id)); err != nil {
		return DeviceID{}, fmt.Errorf("persist device id: %w", err)
	}
	return DeviceID{Value: id}, nil
}

func (p *LocalProvider) DetectPlatformState() claims.PlatformState {
	return p.state
}

func (p *LocalProvider) Platform() claims.Platform {
	switch runtime.GOOS {
	case "darwin":
		return claims.PlatformMacOS
	case "ios":
		return claims.PlatformIOS
	case "android":
		return claims.PlatformAndroid
	case "windows":
		return claims.PlatformWindows
	default:
		return claims.PlatformLinux
	}
}

package attest

import (
	"context"
	"fmt"
	"time"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"

	"github.com/arkavo-org/ntdf-go/internal/claims"
)

const dstackTimeout = 5 * time.Second

// DstackProvider identifies the device via the dstack guest agent.
// The device id comes from measured CVM state, so identifiers are
// attested and the posture is secure.
type DstackProvider struct {
	client *dstacksdk.DstackClient
}

// NewDstackProvider connects to the guest agent socket. An empty
// endpoint uses the SDK default, /var/run/dstack.sock.
func NewDstackProvider(endpoint string) *DstackProvider {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackProvider{client: dstacksdk.NewDstackClient(opts...)}
}

func (p *DstackProvider) GetOrCreateDeviceID() (DeviceID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dstackTimeout)
	defer cancel()

	info, err := p.client.Info(ctx)
	if err != nil {
		return DeviceID{}, fmt.Errorf("dstack info: %w", err)
	}
	if info.DeviceID == "" {
		return DeviceID{}, fmt.Errorf("dstack info returned no device id")
	}
	return DeviceID{Value: info.DeviceID, Attested: true}, nil
}

func (p *DstackProvider) DetectPlatformState() claims.PlatformState {
	return claims.StateSecure
}

func (p *DstackProvider) Platform() claims.Platform {
	return claims.PlatformLinux
}

// Collect fetches the attestation bundle the authority checks in
// strict mode.
func (p *DstackProvider) Collect(ctx context.Context) (Bundle, error) {
	info, err := p.client.Info(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("dstack info: %w", err)
	}
	return Bundle{
		AppCert:  info.AppCert,
		TCBInfo:  info.TcbInfo,
		AppID:    info.AppID,
		Instance: info.InstanceID,
		DeviceID: info.DeviceID,
	}, nil
}

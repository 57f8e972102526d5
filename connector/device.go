package connector

import (
	"os"
	"runtime"

	"github.com/google/uuid"
)

// DeviceMetadata identifies the installation issuing requests.
type DeviceMetadata struct {
	InstallationID string `json:"id,omitempty"`
	SystemName     string `json:"system_name"`
	SystemVersion  string `json:"system_version,omitempty"`
	Model          string `json:"model,omitempty"`
	AppID          string `json:"app_id,omitempty"`
	AppVersion     string `json:"app_version,omitempty"`
	SessionID      string `json:"session_id"`
	Channel        string `json:"channel"`
}

// DeviceMetadataProvider supplies metadata for device bearing requests and headers.
type DeviceMetadataProvider interface {
	DeviceMetadata() DeviceMetadata
}

// StaticDeviceMetadataProvider returns the same metadata for the life of the process.
type StaticDeviceMetadataProvider struct {
	metadata DeviceMetadata
}

// NewStaticDeviceMetadataProvider describes the current process. The session id
// is generated once per provider.
func NewStaticDeviceMetadataProvider(appID, appVersion string) *StaticDeviceMetadataProvider {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	return &StaticDeviceMetadataProvider{metadata: DeviceMetadata{
		InstallationID: host,
		SystemName:     runtime.GOOS,
		SystemVersion:  runtime.Version(),
		Model:          runtime.GOARCH,
		AppID:          appID,
		AppVersion:     appVersion,
		SessionID:      uuid.NewString(),
		Channel:        "go",
	}}
}

func (p *StaticDeviceMetadataProvider) DeviceMetadata() DeviceMetadata {
	return p.metadata
}

// DeviceMetadataFunc adapts a function to DeviceMetadataProvider.
type DeviceMetadataFunc func() DeviceMetadata

func (f DeviceMetadataFunc) DeviceMetadata() DeviceMetadata {
	return f()
}

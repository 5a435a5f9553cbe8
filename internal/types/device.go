package types

// DeviceDescriptor is one entry of the device enumeration. The farm treats
// descriptors as read-only input.
type DeviceDescriptor struct {
	Index       int          `json:"index"`
	Name        string       `json:"name"`
	Platform    PlatformType `json:"platform"`
	Vendor      Vendor       `json:"vendor"`
	Enabled     bool         `json:"enabled"`
	Initialized bool         `json:"initialized"`
}

// IsCPU reports whether the device is a CPU-class device.
func (d DeviceDescriptor) IsCPU() bool {
	return d.Platform == PlatformCPU
}

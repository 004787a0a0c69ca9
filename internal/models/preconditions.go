package models

// PreconditionState is a snapshot of the device checks evaluated before a report.
type PreconditionState struct {
	HasConnectivity        bool `json:"has_connectivity"`
	HasLocationAccess      bool `json:"has_location_access"`
	LocationServiceEnabled bool `json:"location_service_enabled"`
}

// Satisfied reports whether every precondition holds.
func (s PreconditionState) Satisfied() bool {
	return s.HasConnectivity && s.HasLocationAccess && s.LocationServiceEnabled
}

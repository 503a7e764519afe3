package sync

import "slices"

// ServiceID is the stable name of a synchronizer. It keys watermark rows,
// dependency edges and the foreign-key constraint map.
type ServiceID string

// Known synchronizers
const (
	ServiceDevices         ServiceID = "devices"
	ServiceUsers           ServiceID = "users"
	ServiceDiagnostics     ServiceID = "diagnostics"
	ServiceLogRecords      ServiceID = "log_records"
	ServiceStatusData      ServiceID = "status_data"
	ServiceFaultData       ServiceID = "fault_data"
	ServiceTrips           ServiceID = "trips"
	ServiceExceptionEvents ServiceID = "exception_events"
)

// String returns the service name
func (id ServiceID) String() string {
	return string(id)
}

// AllServices returns every known synchronizer in a stable order, producers first.
func AllServices() []ServiceID {
	return []ServiceID{
		ServiceDevices,
		ServiceUsers,
		ServiceDiagnostics,
		ServiceLogRecords,
		ServiceStatusData,
		ServiceFaultData,
		ServiceTrips,
		ServiceExceptionEvents,
	}
}

// IsKnownService reports whether name is one of the built-in synchronizers
func IsKnownService(name string) bool {
	return slices.Contains(AllServices(), ServiceID(name))
}

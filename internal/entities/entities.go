// Package entities defines the synchronizers the connector runs: the upstream
// feed each one reads, the table it writes, how records become rows, and which
// other synchronizers produce the rows it references.
package entities

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/fkresolver"
	"github.com/stacklok/fleet-feed-connector/internal/sync/processor"
	"github.com/stacklok/fleet-feed-connector/internal/sync/writer"
)

// Definitions returns the definition of every known synchronizer, producers first
func Definitions() []processor.Definition {
	return []processor.Definition{
		devices(),
		users(),
		diagnostics(),
		logRecords(),
		statusData(),
		faultData(),
		trips(),
		exceptionEvents(),
	}
}

// ByID returns the definition of id
func ByID(id pkgsync.ServiceID) (processor.Definition, bool) {
	for _, def := range Definitions() {
		if def.ID == id {
			return def, true
		}
	}
	return processor.Definition{}, false
}

// ForeignKeyMapping merges the constraint maps of defs. Two definitions
// claiming the same constraint is a wiring error.
func ForeignKeyMapping(defs []processor.Definition) (fkresolver.Mapping, error) {
	mapping := fkresolver.Mapping{}
	for _, def := range defs {
		for constraint, producer := range def.ForeignKeys {
			if existing, ok := mapping[constraint]; ok && existing != producer {
				return nil, fmt.Errorf("constraint %s is mapped to both %s and %s", constraint, existing, producer)
			}
			mapping[constraint] = producer
		}
	}
	return mapping, nil
}

// Tables returns the target tables of defs in sorted order
func Tables(defs []processor.Definition) []string {
	tables := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		tables[def.Target.Table] = struct{}{}
	}
	return slices.Sorted(maps.Keys(tables))
}

func devices() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceDevices,
		FeedType: "Device",
		Target: writer.Target{
			Table:   "devices",
			Columns: []string{"id", "serial_number", "name", "device_type", "vin", "active_from", "active_to", "version", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				if r.Get("id").String() == "NoDeviceId" {
					return nil, false, nil
				}
				return newRow(r).
					text("serialNumber").
					text("name").
					text("deviceType").
					text("vehicleIdentificationNumber").
					timestamp("activeFrom", false).
					timestamp("activeTo", false).
					text("version").
					build()
			},
		},
	}
}

func users() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceUsers,
		FeedType: "User",
		Target: writer.Target{
			Table:   "users",
			Columns: []string{"id", "name", "first_name", "last_name", "active_from", "active_to", "is_driver", "employee_no", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				if slices.Contains(driverSentinels, r.Get("id").String()) {
					return nil, false, nil
				}
				return newRow(r).
					text("name").
					text("firstName").
					text("lastName").
					timestamp("activeFrom", false).
					timestamp("activeTo", false).
					boolean("isDriver").
					text("employeeNo").
					build()
			},
		},
	}
}

func diagnostics() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceDiagnostics,
		FeedType: "Diagnostic",
		Target: writer.Target{
			Table:   "diagnostics",
			Columns: []string{"id", "name", "code", "diagnostic_type", "unit_of_measure", "source", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					text("name").
					integer("code").
					text("diagnosticType").
					ref("unitOfMeasure", false).
					ref("source", false).
					build()
			},
		},
	}
}

func logRecords() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceLogRecords,
		FeedType: "LogRecord",
		Target: writer.Target{
			Table:   "log_records",
			Columns: []string{"id", "device_id", "date_time", "latitude", "longitude", "speed", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					ref("device", true).
					timestamp("dateTime", true).
					float("latitude").
					float("longitude").
					float("speed").
					build()
			},
		},
		Prerequisites: []pkgsync.ServiceID{pkgsync.ServiceDevices},
		ForeignKeys: map[string]pkgsync.ServiceID{
			"fk_log_records_device": pkgsync.ServiceDevices,
		},
	}
}

func statusData() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceStatusData,
		FeedType: "StatusData",
		Target: writer.Target{
			Table:   "status_data",
			Columns: []string{"id", "device_id", "diagnostic_id", "date_time", "data", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					ref("device", true).
					ref("diagnostic", true).
					timestamp("dateTime", true).
					float("data").
					build()
			},
		},
		Prerequisites: []pkgsync.ServiceID{pkgsync.ServiceDevices, pkgsync.ServiceDiagnostics},
		ForeignKeys: map[string]pkgsync.ServiceID{
			"fk_status_data_device":     pkgsync.ServiceDevices,
			"fk_status_data_diagnostic": pkgsync.ServiceDiagnostics,
		},
	}
}

func faultData() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceFaultData,
		FeedType: "FaultData",
		Target: writer.Target{
			Table:   "fault_data",
			Columns: []string{"id", "device_id", "diagnostic_id", "date_time", "fault_state", "failure_mode_id", "count", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					ref("device", true).
					ref("diagnostic", true).
					timestamp("dateTime", true).
					text("faultState").
					ref("failureMode", false).
					integer("count").
					build()
			},
		},
		Prerequisites: []pkgsync.ServiceID{pkgsync.ServiceDevices, pkgsync.ServiceDiagnostics},
		ForeignKeys: map[string]pkgsync.ServiceID{
			"fk_fault_data_device":     pkgsync.ServiceDevices,
			"fk_fault_data_diagnostic": pkgsync.ServiceDiagnostics,
		},
	}
}

func trips() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceTrips,
		FeedType: "Trip",
		Target: writer.Target{
			Table:   "trips",
			Columns: []string{"id", "device_id", "driver_id", "start_time", "stop_time", "distance", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					ref("device", true).
					ref("driver", false, driverSentinels...).
					timestamp("start", false).
					timestamp("stop", false).
					float("distance").
					build()
			},
		},
		Prerequisites: []pkgsync.ServiceID{pkgsync.ServiceDevices, pkgsync.ServiceUsers},
		ForeignKeys: map[string]pkgsync.ServiceID{
			"fk_trips_device": pkgsync.ServiceDevices,
			"fk_trips_driver": pkgsync.ServiceUsers,
		},
	}
}

func exceptionEvents() processor.Definition {
	return processor.Definition{
		ID:       pkgsync.ServiceExceptionEvents,
		FeedType: "ExceptionEvent",
		Target: writer.Target{
			Table:   "exception_events",
			Columns: []string{"id", "device_id", "driver_id", "rule_id", "active_from", "active_to", "distance", "raw"},
			Map: func(r gjson.Result) ([]any, bool, error) {
				return newRow(r).
					ref("device", true).
					ref("driver", false, driverSentinels...).
					ref("rule", false).
					timestamp("activeFrom", false).
					timestamp("activeTo", false).
					float("distance").
					build()
			},
		},
		Prerequisites: []pkgsync.ServiceID{pkgsync.ServiceDevices, pkgsync.ServiceUsers},
		ForeignKeys: map[string]pkgsync.ServiceID{
			"fk_exception_events_device": pkgsync.ServiceDevices,
			"fk_exception_events_driver": pkgsync.ServiceUsers,
		},
	}
}

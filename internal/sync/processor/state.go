package processor

// State is the position of a processor in its loop
type State int32

const (
	// StateStarting is the state before Run is called
	StateStarting State = iota
	// StateAwaitingPrerequisites waits for the prerequisites' first iteration
	StateAwaitingPrerequisites
	// StateAwaitingMaintenanceWindow waits for a maintenance window to close
	StateAwaitingMaintenanceWindow
	// StateAwaitingConnectivity waits for the connector to be online
	StateAwaitingConnectivity
	// StateAwaitingProducer waits for the producer of rows a batch references
	StateAwaitingProducer
	// StateRunning fetches and commits a batch
	StateRunning
	// StateSleeping waits out the poll interval of a caught-up feed
	StateSleeping
	// StateDisabled is entered while the synchronizer is disabled by configuration
	StateDisabled
	// StateStopped is entered when Run returns
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAwaitingPrerequisites:
		return "awaiting-prerequisites"
	case StateAwaitingMaintenanceWindow:
		return "awaiting-maintenance-window"
	case StateAwaitingConnectivity:
		return "awaiting-connectivity"
	case StateAwaitingProducer:
		return "awaiting-producer"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateDisabled:
		return "disabled"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

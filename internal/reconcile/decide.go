package reconcile

// Action is the corrective step chosen for one device on one tick.
type Action int

// Actions, at most one per device per tick.
const (
	ActionNone Action = iota
	ActionConnect
	ActionDisconnect
	ActionRestart
)

// String returns the metric/label form of the action.
func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionRestart:
		return "restart"
	default:
		return "none"
	}
}

// Observation is what the engine saw for a device.
type Observation struct {
	LocalNodeExists bool `json:"local_node_exists"`
	RemoteValid     bool `json:"remote_valid"`
	RemoteConnected bool `json:"remote_connected"`
	AutoConnect     bool `json:"auto_connect"`
}

// Decide maps an observation to an action. The first matching rule wins:
//
//	local  valid  connected  auto  -> action
//	yes    no     -          -     -> restart
//	yes    yes    no         yes   -> connect
//	yes    yes    no         no    -> none
//	yes    yes    yes        -     -> none
//	no     -      yes        -     -> disconnect
//	no     -      no         -     -> none
func Decide(o Observation) Action {
	if o.LocalNodeExists {
		switch {
		case !o.RemoteValid:
			return ActionRestart
		case !o.RemoteConnected && o.AutoConnect:
			return ActionConnect
		default:
			return ActionNone
		}
	}

	if o.RemoteConnected {
		return ActionDisconnect
	}
	return ActionNone
}

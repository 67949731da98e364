package offline

// State is a controller's position in its lifecycle.
//
//	Provisioning -> Installed -> Active -> Superseded
//	Provisioning -> Failed
type State int

const (
	StateProvisioning State = iota
	StateInstalled
	StateActive
	StateSuperseded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome says how an interception was resolved.
type Outcome int

const (
	// OutcomePassthrough means the controller did not intervene; the caller
	// must send the request to the network itself.
	OutcomePassthrough Outcome = iota
	// OutcomeStale means a stored response was returned.
	OutcomeStale
	// OutcomeFresh means the live response was returned.
	OutcomeFresh
	// OutcomeFailed means the live fetch failed and nothing was stored.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeStale:
		return "stale"
	case OutcomeFresh:
		return "fresh"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

package schemas

// LaunchState is the lifecycle state of the shared browser session.
type LaunchState int32

const (
	StateUninitialized LaunchState = iota
	StateLaunching
	StateReady
	StateFailed
)

func (s LaunchState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resource types reported by engines, normalized to lower case so that the
// denylist does not depend on which engine is in use.
const (
	ResourceDocument   = "document"
	ResourceStylesheet = "stylesheet"
	ResourceImage      = "image"
	ResourceMedia      = "media"
	ResourceFont       = "font"
	ResourceScript     = "script"
	ResourceOther      = "other"
)

// RequestInfo describes a request issued by a loaded page, as seen by an
// interception rule.
type RequestInfo struct {
	URL          string `json:"url"`
	ResourceType string `json:"resourceType"`
}

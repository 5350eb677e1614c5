package model

// CreateStatus is the outcome of the creation existence check
type CreateStatus int

const (
	// CreateStatusNew means records can be (re)written by this caller
	CreateStatusNew CreateStatus = iota
	// CreateStatusExistsCreating means a different creation attempt is in flight
	CreateStatusExistsCreating
	// CreateStatusExistsActive means the entity already exists
	CreateStatusExistsActive
)

func (s CreateStatus) String() string {
	switch s {
	case CreateStatusNew:
		return "NEW"
	case CreateStatusExistsCreating:
		return "EXISTS_CREATING"
	case CreateStatusExistsActive:
		return "EXISTS_ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// CreateResponse carries the status together with the effective creation inputs.
// Timestamp and Configuration are the stored values when a prior attempt left them.
type CreateResponse struct {
	Status                CreateStatus
	Configuration         Configuration
	Timestamp             int64
	StartingSegmentNumber int32
}

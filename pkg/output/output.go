package output

import "github.com/ericogr/plant-autocal/pkg/calibration"

// Output receives the current snapshot of every measurement on its own interval.
type Output interface {
	Publish([]calibration.Snapshot) error
	Close() error
}

// helper constructors are in subpackages

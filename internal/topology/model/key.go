// Package model defines the data types shared across the topology core:
// events, component identity, configuration, diffs, and the builder's
// output bundle.
package model

import (
	"fmt"
	"strings"
)

// Scope identifies which category of the topology a ComponentKey belongs to.
type Scope string

const (
	ScopeSource    Scope = "source"
	ScopeTransform Scope = "transform"
	ScopeSink      Scope = "sink"
)

// ComponentKey is the stable identity of a source, transform, or sink.
// It is totally ordered so iteration over components is deterministic.
type ComponentKey struct {
	Scope Scope
	ID    string
}

// NewComponentKey builds a key for the given scope and id.
func NewComponentKey(scope Scope, id string) ComponentKey {
	return ComponentKey{Scope: scope, ID: id}
}

func (k ComponentKey) String() string {
	return fmt.Sprintf("%s:%s", k.Scope, k.ID)
}

// Less gives ComponentKey a total order: scope first, then id.
func (k ComponentKey) Less(other ComponentKey) bool {
	if k.Scope != other.Scope {
		return k.Scope < other.Scope
	}
	return k.ID < other.ID
}

// Port names a named output of a transform. The empty string denotes the
// primary (unnamed) output.
type Port string

// PrimaryPort is the zero value of Port, used for a component's default output.
const PrimaryPort Port = ""

// DroppedPort is the secondary output a fallible sync transform routes its
// error buffer to (see spec §4.5).
const DroppedPort Port = "dropped"

// OutputId names one output of one component: (ComponentKey, port).
type OutputId struct {
	Key  ComponentKey
	Port Port
}

func (o OutputId) String() string {
	if o.Port == PrimaryPort {
		return o.Key.ID
	}
	return fmt.Sprintf("%s.%s", o.Key.ID, o.Port)
}

// ParseOutputId parses the configuration-surface input string "key" or
// "key.port" (see spec §6) into an OutputId for the given scope. The scope
// of the upstream component is not encoded in the string; callers resolve
// it against the set of known sources/transforms when wiring inputs.
func ParseOutputId(scope Scope, s string) OutputId {
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return OutputId{Key: NewComponentKey(scope, s[:idx]), Port: Port(s[idx+1:])}
	}
	return OutputId{Key: NewComponentKey(scope, s)}
}

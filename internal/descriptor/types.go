package descriptor

import "fmt"

// ComponentType categorizes what kind of artifact a component is.
type ComponentType string

const (
	TypeService        ComponentType = "service"
	TypeLibrary        ComponentType = "library"
	TypeConfiguration  ComponentType = "configuration"
	TypeData           ComponentType = "data"
	TypeInfrastructure ComponentType = "infrastructure"
)

// Criticality expresses how important a component is to the overall system.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank returns a comparable ordering for criticalities, higher is more
// critical. Unknown values rank below low.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityLow:
		return 1
	case CriticalityMedium:
		return 2
	case CriticalityHigh:
		return 3
	case CriticalityCritical:
		return 4
	default:
		return 0
	}
}

// DependencyType categorizes a declared dependency reference.
type DependencyType string

const (
	DependencyHard     DependencyType = "hard"
	DependencySoft     DependencyType = "soft"
	DependencyOptional DependencyType = "optional"
	DependencyCritical DependencyType = "critical"
	DependencyRuntime  DependencyType = "runtime"
	DependencyBuild    DependencyType = "build"
	DependencyTest     DependencyType = "test"
)

// Reference declares that the owning component depends on another component.
type Reference struct {
	// Target is the identifier of the component depended upon.
	Target string `yaml:"target" json:"target"`

	// Type of the dependency. Defaults to hard when empty.
	Type DependencyType `yaml:"type,omitempty" json:"type,omitempty"`

	// VersionConstraint optionally restricts which versions of the target
	// satisfy this dependency, in semver constraint syntax (">=1.2.0 <2").
	VersionConstraint string `yaml:"versionConstraint,omitempty" json:"versionConstraint,omitempty"`
}

// Metadata carries operational attributes of a component.
type Metadata struct {
	Criticality Criticality `yaml:"criticality,omitempty" json:"criticality,omitempty"`
	Stability   string      `yaml:"stability,omitempty" json:"stability,omitempty"`
	Owner       string      `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Component describes one software component and its declared dependencies.
// Components are externally owned input; the engine treats them as immutable
// once ingested.
type Component struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name,omitempty" json:"name,omitempty"`
	Type         ComponentType `yaml:"type,omitempty" json:"type,omitempty"`
	Version      string        `yaml:"version,omitempty" json:"version,omitempty"`
	Location     string        `yaml:"location,omitempty" json:"location,omitempty"`
	Dependencies []Reference   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Metadata     Metadata      `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks the structural validity of a component descriptor.
// Referential integrity of dependency targets is not checked here; missing
// targets are handled leniently at graph build time.
func (c Component) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("component descriptor is missing an id")
	}
	switch c.Type {
	case "", TypeService, TypeLibrary, TypeConfiguration, TypeData, TypeInfrastructure:
	default:
		return fmt.Errorf("component %s: unknown type %q", c.ID, c.Type)
	}
	switch c.Metadata.Criticality {
	case "", CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
	default:
		return fmt.Errorf("component %s: unknown criticality %q", c.ID, c.Metadata.Criticality)
	}
	for i, ref := range c.Dependencies {
		if ref.Target == "" {
			return fmt.Errorf("component %s: dependency %d has no target", c.ID, i)
		}
		switch ref.Type {
		case "", DependencyHard, DependencySoft, DependencyOptional, DependencyCritical,
			DependencyRuntime, DependencyBuild, DependencyTest:
		default:
			return fmt.Errorf("component %s: dependency on %s has unknown type %q", c.ID, ref.Target, ref.Type)
		}
	}
	return nil
}

// Normalized returns a copy of the component with defaults applied: empty
// component type becomes service, empty dependency types become hard and
// empty criticality becomes medium.
func (c Component) Normalized() Component {
	out := c
	if out.Type == "" {
		out.Type = TypeService
	}
	if out.Metadata.Criticality == "" {
		out.Metadata.Criticality = CriticalityMedium
	}
	deps := make([]Reference, len(c.Dependencies))
	copy(deps, c.Dependencies)
	for i := range deps {
		if deps[i].Type == "" {
			deps[i].Type = DependencyHard
		}
	}
	out.Dependencies = deps
	return out
}

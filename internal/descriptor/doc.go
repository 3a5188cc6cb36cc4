// Package descriptor defines the component descriptor input model and its
// YAML loading.
//
// A component descriptor names a software component (service, library,
// configuration, data or infrastructure), its version and location, the
// dependency references it declares on other components, and operational
// metadata such as criticality and ownership. Descriptors are supplied by
// whatever subsystem owns the component inventory; this package only parses,
// validates and normalizes them.
//
// Descriptors are loaded from YAML files, either one at a time (LoadFile) or
// from a whole directory (LoadDir). The Watcher re-loads the directory on
// filesystem changes with debouncing, so callers can rebuild dependency
// graphs live as the inventory evolves.
package descriptor

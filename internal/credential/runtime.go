package credential

import "runtime"

// runtimeIdentifier mixes in the build's GOOS/GOARCH as a cheap second
// factor alongside hostname and username. It is not meant to resist
// deliberate tampering, only to vary the key across otherwise-identical
// container images sharing a hostname.
func runtimeIdentifier() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

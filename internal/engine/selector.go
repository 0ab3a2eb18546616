package engine

import "github.com/cruciblehq/forge/internal/platform"

// Resolves which engine kind to use for a platform.
//
// An explicit request for the pool engine short-circuits all platform
// inspection: the caller has decided scheduling should win. Otherwise
// the platform's capabilities are consulted in fixed priority order
// (dedicated hardware beats a cloud image beats a container base image)
// before falling back to an explicit target host, the caller's requested
// kind, and finally the default.
func Select(p *platform.Platform, requested, target string) string {
	if requested == KindPool {
		return KindPool
	}

	switch {
	case p.HasHardwarePool():
		return KindHardware
	case p.HasCloudImage():
		return KindCloud
	case p.HasBaseImage():
		return KindContainer
	case target != "":
		return KindLocal
	case requested != "":
		return requested
	default:
		return DefaultKind
	}
}

// Package engine provides the build backends forge can dispatch work to.
//
// An [Engine] owns one build host for the duration of a build: it
// provisions the host, carries the working tree over, runs commands, and
// brings artifacts back. Five kinds are supported: hardware (a host
// leased from a fixed pool), cloud (a freshly launched EC2 instance),
// container (a local container started from a base image), pool (a VM
// checked out from an external pooler service), and local (a host named
// explicitly by the caller).
//
// [Select] maps a platform definition to the kind that should build it;
// [New] constructs the engine. Hardware and cloud engines hold leased
// resources and must always be torn down, regardless of build outcome or
// preservation settings.
package engine

// Package platform loads build target descriptors.
//
// A platform describes one OS/architecture combination: which execution
// backends can build for it (a hardware pool, a cloud image, a container
// base image), how packages are installed on it, and how the generated
// build script is driven. Definitions are YAML files under the
// configuration directory and are read-only for the lifetime of a build.
package platform

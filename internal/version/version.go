// Package version holds the build-time identity reported by the -version
// flag and the rift pipeline's own compatibility claim.
package version

// Version is go-tartuffe's own release version.
const Version = "2.1.0"

// MountebankVersion is the mountebank wire-protocol version this imposter
// API implementation targets.
const MountebankVersion = "2.9.1"

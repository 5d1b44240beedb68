// Package version holds the release version of the service.
package version

// Version of the service.
const Version = "v1.2.0"

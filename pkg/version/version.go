// Package version carries the build version string shared by all three binaries.
package version

// Version is the current version of the tap gateway suite.
const Version = "0.1.0"

// UserAgent returns the User-Agent string used for outbound HTTP requests.
func UserAgent() string {
	return "siprec-tap-gateway/" + Version
}

// ServerHeader returns the Server header value for HTTP responses.
func ServerHeader() string {
	return "siprec-tap-gateway/" + Version
}

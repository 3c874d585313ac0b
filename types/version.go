//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI, the capture format and the completion event payload share it.
const Version = "0.3.0"

// EventContractVersion is the version of the completion event payload
// published to adapters. It moves in lockstep with Version.
const EventContractVersion = Version

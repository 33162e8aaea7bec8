// Package lua embeds the Redis scripts used by the faucet.
package lua

import _ "embed"

// ReleaseScript deletes a lock key only when the caller's token still owns it.
//
//go:embed release.lua
var ReleaseScript string

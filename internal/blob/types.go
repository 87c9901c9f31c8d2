// Package blob is the only entry point to blob storage for the rest of the
// module. It aliases the core contract and opens a driver from Config.
package blob

import "unitofwork/internal/blob/core"

// Aliases of the core contract so callers never import blob/core or a driver.
type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

// Driver names accepted by Config.Driver.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Sentinels shared by every driver.
var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

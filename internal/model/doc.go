// Package model holds the persisted and observed record types shared by the
// store implementations and the monitor core.
//
// This package contains type definitions only and imports nothing internal.
package model

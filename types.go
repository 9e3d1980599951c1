// types.go — Public aliases for the wire types.
// Hosts construct contexts, breadcrumbs, and hooks against these names
// without reaching into internal packages.
package eaglet

import "github.com/Basillica/eaglet/internal/types"

type (
	LogEntry       = types.LogEntry
	Breadcrumb     = types.Breadcrumb
	BreadcrumbType = types.BreadcrumbType
	Context        = types.Context
	Level          = types.Level
	UserInfo       = types.UserInfo
	DeviceInfo     = types.DeviceInfo
)

// Severity levels, lowest to highest.
const (
	LevelTrace    = types.LevelTrace
	LevelDebug    = types.LevelDebug
	LevelInfo     = types.LevelInfo
	LevelWarn     = types.LevelWarn
	LevelError    = types.LevelError
	LevelFatal    = types.LevelFatal
	LevelCritical = types.LevelCritical
)

// Breadcrumb types.
const (
	BreadcrumbClick      = types.BreadcrumbClick
	BreadcrumbNavigation = types.BreadcrumbNavigation
	BreadcrumbXHR        = types.BreadcrumbXHR
	BreadcrumbConsole    = types.BreadcrumbConsole
	BreadcrumbCustom     = types.BreadcrumbCustom
	BreadcrumbError      = types.BreadcrumbError
)

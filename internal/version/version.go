/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the build version string.
package version

// Version is the current version of Vigil.
// This is set at build time via ldflags:
//
//	-X github.com/incidentworks/vigil/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

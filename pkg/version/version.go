// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package version holds the build version of the reflex binaries.
package version

import "fmt"

// Version contains the version of reflex.
// It is populated at build time using build flags.
var Version string

// Commit is populated with the short commit hash from which reflex was built.
var Commit string

// BuildDate is the UTC date at which reflex was built.
var BuildDate string

var versionDefault = "0.0.0-dev"

func init() {
	if Version == "" {
		Version = versionDefault
	}
}

// Full returns a human readable version string.
func Full() string {
	s := Version
	if Commit != "" {
		s = fmt.Sprintf("%s - Commit: %s", s, Commit)
	}
	if BuildDate != "" {
		s = fmt.Sprintf("%s - Built: %s", s, BuildDate)
	}
	return s
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


// Package validation checks identifiers that end up in NATS subjects and
// storage keys, and sanitizes wire-supplied strings before they are logged.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxDeviceIDLength matches the device identity limit of the hub.
	MaxDeviceIDLength = 128

	maxPrefixLength = 255
	maxLogLength    = 1000
)

var (
	// deviceIDPattern matches a single subject token.
	deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-:]+$`)

	// prefixTokenPattern matches one dot-separated token of a prefix.
	prefixTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// ValidateDeviceID validates a device identifier.
// The ID is used as one subject token, so it must not contain:
// - null bytes or control characters
// - subject separators or wildcards (., *, >)
// - whitespace
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}

	// Check for null bytes (can bypass some path checks)
	if strings.Contains(deviceID, "\x00") {
		return fmt.Errorf("device ID contains null byte")
	}

	// Check length before other validations (prevent ReDoS)
	if len(deviceID) > MaxDeviceIDLength {
		return fmt.Errorf("device ID too long (max %d characters)", MaxDeviceIDLength)
	}

	if err := checkControl("device ID", deviceID); err != nil {
		return err
	}

	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("device ID contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, :)")
	}

	return nil
}

// ValidateSubjectPrefix validates a dot-separated subject prefix such as
// "devices" or "site1.devices".
func ValidateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("subject prefix cannot be empty")
	}
	if len(prefix) > maxPrefixLength {
		return fmt.Errorf("subject prefix too long (max %d characters)", maxPrefixLength)
	}
	if err := checkControl("subject prefix", prefix); err != nil {
		return err
	}
	for _, token := range strings.Split(prefix, ".") {
		if token == "" {
			return fmt.Errorf("subject prefix contains an empty token")
		}
		if !prefixTokenPattern.MatchString(token) {
			return fmt.Errorf("subject prefix token %q contains invalid characters (allowed: a-z, A-Z, 0-9, -, _)", token)
		}
	}
	return nil
}

func checkControl(what, s string) error {
	for _, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("%s contains control characters", what)
		}
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	// Remove control characters and null bytes
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}

	return s
}

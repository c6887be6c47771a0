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

package pnp

import (
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
)

var (
	// ErrInvalidTwin is returned when the twin payload is not a JSON object.
	ErrInvalidTwin = errors.New("pnp: invalid twin document")

	// ErrMissingDesired is returned when a complete twin has no desired
	// section.
	ErrMissingDesired = errors.New("pnp: twin has no desired properties")

	// ErrMissingVersion is returned when the property set has no integer
	// $version.
	ErrMissingVersion = errors.New("pnp: twin has no $version")
)

// PropertyVisitor is called once per desired property. component is empty
// for root properties. value is the raw JSON of the property.
type PropertyVisitor func(component, name string, value []byte, version int)

// ProcessTwinData walks the desired properties in a twin payload. A
// complete twin is read from its "desired" section, a partial update is the
// desired patch itself. Properties whose name is one of components and
// whose value is an object are expanded into that component's properties;
// everything else is visited as a root property. Properties are visited in
// name order.
func ProcessTwinData(state device.TwinUpdateState, payload []byte, components []string, visit PropertyVisitor) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTwin, err)
	}

	if state == device.TwinComplete {
		raw, ok := doc[desiredProperty]
		if !ok {
			return ErrMissingDesired
		}
		doc = nil
		if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
			return fmt.Errorf("%w: desired is not an object", ErrInvalidTwin)
		}
	}

	version, err := twinVersion(doc)
	if err != nil {
		return err
	}

	for _, name := range sortedKeys(doc) {
		if name == versionProperty {
			continue
		}
		value := doc[name]
		if slices.Contains(components, name) {
			var children map[string]json.RawMessage
			if err := json.Unmarshal(value, &children); err == nil && children != nil {
				for _, child := range sortedKeys(children) {
					if child == ComponentMarker {
						continue
					}
					visit(name, child, children[child], version)
				}
				continue
			}
		}
		visit("", name, value, version)
	}
	return nil
}

func twinVersion(doc map[string]json.RawMessage) (int, error) {
	raw, ok := doc[versionProperty]
	if !ok {
		return 0, ErrMissingVersion
	}
	var version int
	if err := json.Unmarshal(raw, &version); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingVersion, raw)
	}
	return version, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

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

// Package pnp implements the Plug and Play conventions layered on a device
// client: component-scoped reported properties and telemetry, component
// command names, and visiting the properties of a twin document.
package pnp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
)

// Command status codes.
const (
	StatusSuccess       = 200
	StatusBadFormat     = 400
	StatusNotFound      = 404
	StatusInternalError = 500
)

const (
	// MaxComponentLength is the longest component name accepted.
	MaxComponentLength = 64

	// CommandSeparator separates the component from the command in a
	// method name.
	CommandSeparator = "*"

	// ComponentMarker and ComponentMarkerValue tag a reported property
	// object as a component.
	ComponentMarker      = "__t"
	ComponentMarkerValue = "c"

	// MessageComponentProperty names the component of a telemetry message.
	MessageComponentProperty = "$.sub"

	ContentTypeJSON     = "application/json"
	ContentEncodingUTF8 = "utf-8"

	versionProperty = "$version"
	desiredProperty = "desired"
)

var (
	// ErrInvalidName is returned for an empty property name.
	ErrInvalidName = errors.New("pnp: invalid property name")

	// ErrInvalidValue is returned when a property value is not valid JSON.
	ErrInvalidValue = errors.New("pnp: property value is not valid JSON")

	// ErrComponentTooLong is returned for component names longer than
	// MaxComponentLength.
	ErrComponentTooLong = errors.New("pnp: component name too long")
)

var emptyResponse = []byte("{}")

// EmptyResponse returns a new empty JSON object body, used whenever a
// command handler did not set a response.
func EmptyResponse() []byte {
	return append([]byte(nil), emptyResponse...)
}

// CreateReportedProperty builds a reported-properties patch setting name to
// the raw JSON value. For a component the property is nested in the
// component object alongside the component marker:
//
//	{"name":value}
//	{"component":{"__t":"c","name":value}}
func CreateReportedProperty(component, name string, value []byte) ([]byte, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, value)
	}
	if len(component) > MaxComponentLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrComponentTooLong, len(component), MaxComponentLength)
	}

	nameJSON, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	if component != "" {
		componentJSON, err := json.Marshal(component)
		if err != nil {
			return nil, err
		}
		buf.Write(componentJSON)
		buf.WriteString(`:{"` + ComponentMarker + `":"` + ComponentMarkerValue + `",`)
	}
	buf.Write(nameJSON)
	buf.WriteByte(':')
	buf.Write(value)
	if component != "" {
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalReportedProperty marshals v and wraps it with
// CreateReportedProperty.
func MarshalReportedProperty(component, name string, v any) ([]byte, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return CreateReportedProperty(component, name, value)
}

// CreateTelemetryMessage wraps a JSON body in a device message. Messages
// for a component carry the component name in the $.sub property.
func CreateTelemetryMessage(component string, body []byte) *device.Message {
	msg := device.NewMessage(body)
	msg.ContentType = ContentTypeJSON
	msg.ContentEncoding = ContentEncodingUTF8
	if component != "" {
		msg.SetProperty(MessageComponentProperty, component)
	}
	return msg
}

// ParseCommandName splits a method name of the form
// "<component>*<command>". A name without a separator addresses the root
// component and is returned unchanged as the command.
func ParseCommandName(method string) (component, command string) {
	if i := strings.Index(method, CommandSeparator); i >= 0 {
		return method[:i], method[i+1:]
	}
	return "", method
}

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

// Package metrics provides Prometheus instrumentation for the HSM providers
// and the PnP device loop: HSM operation counts and latencies, telemetry and
// reported-property sends, command invocations and twin updates.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all device metrics
	Namespace = "pnp"

	// Label names
	LabelOperation  = "operation"
	LabelProvider   = "provider"
	LabelStatus     = "status"
	LabelComponent  = "component"
	LabelCommand    = "command"
	LabelStatusCode = "status_code"
	LabelState      = "state"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// HSM operation names
	OpCreate              = "create"
	OpDestroy             = "destroy"
	OpGetCertificate      = "get_certificate"
	OpGetKey              = "get_key"
	OpGetCommonName       = "get_common_name"
	OpGetEndorsementKey   = "get_endorsement_key"
	OpGetStorageRootKey   = "get_storage_root_key"
	OpSignWithIdentity    = "sign_with_identity"
	OpActivateIdentityKey = "activate_identity_key"
	OpGetSymmetricKey     = "get_symmetric_key"
	OpGetRegistrationName = "get_registration_name"
	OpSetKeyInfo          = "set_key_info"

	// RootComponent labels properties and commands on the device itself
	RootComponent = "root"
)

var (
	// HSMOperationsTotal counts HSM provider calls by operation, provider and status.
	HSMOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "hsm",
			Name:      "operations_total",
			Help:      "Total number of HSM operations by type, provider, and status",
		},
		[]string{LabelOperation, LabelProvider, LabelStatus},
	)

	// HSMOperationDuration tracks HSM call latency in seconds. TPM-backed
	// providers dominate the upper buckets.
	HSMOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "hsm",
			Name:      "operation_duration_seconds",
			Help:      "Duration of HSM operations in seconds",
			Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation, LabelProvider},
	)

	// TelemetryMessagesTotal counts telemetry messages handed to the device client.
	TelemetryMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "telemetry_messages_total",
			Help:      "Total number of telemetry messages by component and status",
		},
		[]string{LabelComponent, LabelStatus},
	)

	// ReportedPropertiesTotal counts reported-state sends.
	ReportedPropertiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reported_properties_total",
			Help:      "Total number of reported property updates by component and status",
		},
		[]string{LabelComponent, LabelStatus},
	)

	// CommandsTotal counts device-method invocations by the PnP status returned.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Total number of PnP commands by component, command, and status code",
		},
		[]string{LabelComponent, LabelCommand, LabelStatusCode},
	)

	// TwinUpdatesTotal counts twin documents processed, split by complete/partial.
	TwinUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "twin_updates_total",
			Help:      "Total number of device twin updates by state and status",
		},
		[]string{LabelState, LabelStatus},
	)

	// PollIterationsTotal counts iterations of the device polling loop.
	PollIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "poll_iterations_total",
			Help:      "Total number of device client polling iterations",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// StatusOf maps an error to StatusSuccess or StatusError.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordHSMOperation records an HSM provider call and its duration in seconds.
//
// Example:
//
//	start := time.Now()
//	cert, err := client.Certificate()
//	metrics.RecordHSMOperation(metrics.OpGetCertificate, "custom",
//	    metrics.StatusOf(err), time.Since(start).Seconds())
func RecordHSMOperation(operation, provider, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	HSMOperationsTotal.WithLabelValues(operation, provider, status).Inc()
	HSMOperationDuration.WithLabelValues(operation, provider).Observe(duration)
}

// RecordTelemetry records a telemetry send for component.
func RecordTelemetry(component, status string) {
	if !enabled.Load() {
		return
	}
	TelemetryMessagesTotal.WithLabelValues(componentLabel(component), status).Inc()
}

// RecordReportedProperty records a reported-state send for component.
func RecordReportedProperty(component, status string) {
	if !enabled.Load() {
		return
	}
	ReportedPropertiesTotal.WithLabelValues(componentLabel(component), status).Inc()
}

// RecordCommand records a command invocation and the PnP status it produced.
func RecordCommand(component, command string, statusCode int) {
	if !enabled.Load() {
		return
	}
	CommandsTotal.WithLabelValues(componentLabel(component), command, strconv.Itoa(statusCode)).Inc()
}

// RecordTwinUpdate records a processed twin document.
func RecordTwinUpdate(state, status string) {
	if !enabled.Load() {
		return
	}
	TwinUpdatesTotal.WithLabelValues(state, status).Inc()
}

// IncPollIterations increments the polling loop counter.
func IncPollIterations() {
	if !enabled.Load() {
		return
	}
	PollIterationsTotal.Inc()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

func componentLabel(component string) string {
	if component == "" {
		return RootComponent
	}
	return component
}

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

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordHSMOperation(t *testing.T) {
	Enable()
	HSMOperationsTotal.Reset()
	HSMOperationDuration.Reset()

	RecordHSMOperation(OpGetCertificate, "custom", StatusSuccess, 0.001)
	RecordHSMOperation(OpGetCertificate, "custom", StatusSuccess, 0.002)
	RecordHSMOperation(OpSetKeyInfo, "custom", StatusError, 0.001)

	got := testutil.ToFloat64(HSMOperationsTotal.WithLabelValues(OpGetCertificate, "custom", StatusSuccess))
	if got != 2 {
		t.Errorf("Expected 2 certificate operations, got %v", got)
	}
	if count := testutil.CollectAndCount(HSMOperationsTotal); count != 2 {
		t.Errorf("Expected 2 label sets, got %d", count)
	}
	if count := testutil.CollectAndCount(HSMOperationDuration); count != 2 {
		t.Errorf("Expected 2 histogram series, got %d", count)
	}
}

func TestRecordWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	TelemetryMessagesTotal.Reset()
	CommandsTotal.Reset()

	RecordTelemetry("motionSensorBMX055", StatusSuccess)
	RecordCommand("", "reboot", 200)

	if count := testutil.CollectAndCount(TelemetryMessagesTotal); count != 0 {
		t.Errorf("Expected no telemetry series while disabled, got %d", count)
	}
	if count := testutil.CollectAndCount(CommandsTotal); count != 0 {
		t.Errorf("Expected no command series while disabled, got %d", count)
	}
}

func TestRootComponentLabel(t *testing.T) {
	Enable()
	ReportedPropertiesTotal.Reset()
	CommandsTotal.Reset()

	RecordReportedProperty("", StatusSuccess)
	RecordCommand("", "reboot", 404)

	if got := testutil.ToFloat64(ReportedPropertiesTotal.WithLabelValues(RootComponent, StatusSuccess)); got != 1 {
		t.Errorf("Expected root reported property count 1, got %v", got)
	}
	if got := testutil.ToFloat64(CommandsTotal.WithLabelValues(RootComponent, "reboot", "404")); got != 1 {
		t.Errorf("Expected root command count 1, got %v", got)
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != StatusSuccess {
		t.Error("nil error should map to success")
	}
	if StatusOf(errors.New("boom")) != StatusError {
		t.Error("non-nil error should map to error")
	}
}

func TestTwinAndPoll(t *testing.T) {
	Enable()
	TwinUpdatesTotal.Reset()

	before := testutil.ToFloat64(PollIterationsTotal)
	IncPollIterations()
	if got := testutil.ToFloat64(PollIterationsTotal); got != before+1 {
		t.Errorf("Expected poll counter to increase by 1, got %v -> %v", before, got)
	}

	RecordTwinUpdate("partial", StatusSuccess)
	if got := testutil.ToFloat64(TwinUpdatesTotal.WithLabelValues("partial", StatusSuccess)); got != 1 {
		t.Errorf("Expected 1 partial twin update, got %v", got)
	}
}

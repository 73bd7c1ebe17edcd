// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package logs

import (
	"errors"
	"testing"
)

func TestInitSentryNoDSN(t *testing.T) {
	if err := InitSentry(""); err != nil {
		t.Fatalf("expected no error with empty DSN, got %s", err)
	}
}

func TestReportInternalErrorWithoutSentry(t *testing.T) {
	// Without a configured DSN this must not panic; it only logs locally.
	ReportInternalError(errors.New("boom"), map[string]string{"component": "processor"})
}

func TestReloadRuntimeLogsDefaultsToStderr(t *testing.T) {
	ReloadRuntimeLogs()
	if rlogger.f == nil {
		t.Fatalf("expected a log file handle to be set")
	}
}

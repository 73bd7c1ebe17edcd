// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

// Package logs wires the go-logging backend used process-wide and,
// optionally, a Sentry hook for surfaced (500-class) internal errors.
package logs

import (
	"fmt"
	"os"

	"github.com/distromirrors/mirrorsd/core"
	"github.com/getsentry/sentry-go"
	"github.com/op/go-logging"
)

var (
	log     = logging.MustGetLogger("main")
	rlogger runtimeLogger
)

type runtimeLogger struct {
	f *os.File
}

// ReloadLogs reopens the runtime log backend, allowing external log
// rotation (logrotate, journald restart) to take effect without a restart.
func ReloadLogs() {
	ReloadRuntimeLogs()
}

func isTerminal(f *os.File) bool {
	stat, _ := f.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// ReloadRuntimeLogs (re)configures the go-logging backend from core.RunLog
// (the -log flag) and core.Debug, defaulting to colored stderr output.
func ReloadRuntimeLogs() {
	if rlogger.f == os.Stderr && core.RunLog == "" {
		// Logger already set up and connected to the console.
		// Don't reload to avoid breaking journald.
		return
	}

	logColor := isTerminal(os.Stdout)

	if rlogger.f != nil {
		rlogger.f.Close()
	}

	if core.RunLog != "" {
		var err error
		rlogger.f, err = os.OpenFile(core.RunLog, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Cannot open log file for writing")
			rlogger.f = os.Stderr
		} else {
			logColor = false
		}
	} else {
		rlogger.f = os.Stderr
	}

	logBackend := logging.NewLogBackend(rlogger.f, "", 0)
	logBackend.Color = logColor

	logging.SetBackend(logBackend)

	if core.Debug {
		logging.SetFormatter(logging.MustStringFormatter("%{shortfile:-20s}%{time:2006/01/02 15:04:05.000 MST} %{message}"))
		logging.SetLevel(logging.DEBUG, "main")
	} else {
		logging.SetFormatter(logging.MustStringFormatter("%{time:2006/01/02 15:04:05.000 MST} %{message}"))
		logging.SetLevel(logging.INFO, "main")
	}
}

// InitSentry registers a Sentry client when dsn is non-empty (the SENTRY_DSN
// environment variable). Internal (500-class) errors are reported through
// ReportInternalError; every other error class stays local to the logger.
func InitSentry(dsn string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{Dsn: dsn})
}

// ReportInternalError sends a programming-error/resource-exhaustion class
// failure to Sentry (when configured) in addition to the regular log line.
func ReportInternalError(err error, tags map[string]string) {
	log.Errorf("internal error: %s", err)
	if sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

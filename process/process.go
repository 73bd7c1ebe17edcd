// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

// Package process manages this service's own pid file, read from the
// MIRRORS_UPDATE_PID environment variable (or core.PidFile as set by the
// -p flag).
package process

import (
	"fmt"
	"os"
	"strconv"

	"github.com/distromirrors/mirrorsd/core"
	"github.com/op/go-logging"
)

var (
	// Compile time variable
	defaultPidFile string

	log = logging.MustGetLogger("main")
)

// GetPidLocation returns the configured pid file path, falling back to
// MIRRORS_UPDATE_PID, then a compile-time default, then /var/run.
func GetPidLocation() string {
	if core.PidFile != "" {
		return core.PidFile
	}
	if v := os.Getenv("MIRRORS_UPDATE_PID"); v != "" {
		return v
	}
	if defaultPidFile != "" {
		return defaultPidFile
	}
	return "/var/run/mirrorsd.pid"
}

// WritePidFile writes the current process pid to GetPidLocation().
func WritePidFile() {
	pid := fmt.Sprintf("%d", os.Getpid())
	if err := os.WriteFile(GetPidLocation(), []byte(pid), 0644); err != nil {
		log.Errorf("Unable to write pid file: %v", err)
	}
}

// RemovePidFile removes the pid file, but only if it still names this
// process (a second instance's startup failure must not delete the file
// of an instance that is actually running).
func RemovePidFile() {
	pidFile := GetPidLocation()
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return
	}
	if GetRemoteProcPid() == os.Getpid() {
		if err := os.Remove(pidFile); err != nil {
			log.Errorf("Unable to remove pid file: %v", err)
		}
	}
}

// GetRemoteProcPid returns the pid recorded in the pid file, or -1 if it
// cannot be read or parsed.
func GetRemoteProcPid() int {
	b, err := os.ReadFile(GetPidLocation())
	if err != nil {
		return -1
	}
	i, err := strconv.ParseInt(string(b), 10, 0)
	if err != nil {
		return -1
	}
	return int(i)
}

// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/distromirrors/mirrorsd/database"
	"github.com/gomodule/redigo/redis"
	"github.com/op/go-logging"
)

var (
	log = logging.MustGetLogger("main")
)

type LogType uint

const (
	_ LogType = iota
	LOGTYPE_ERROR
	LOGTYPE_ADDED
	LOGTYPE_REMOVED
	LOGTYPE_ENABLED
	LOGTYPE_DISABLED
	LOGTYPE_STATUSCHANGED
	LOGTYPE_UPDATESTARTED
	LOGTYPE_UPDATECOMPLETED
)

func typeToInstance(typ LogType) LogAction {
	switch typ {
	case LOGTYPE_ERROR:
		return &LogError{}
	case LOGTYPE_ADDED:
		return &LogAdded{}
	case LOGTYPE_REMOVED:
		return &LogRemoved{}
	case LOGTYPE_ENABLED:
		return &LogEnabled{}
	case LOGTYPE_DISABLED:
		return &LogDisabled{}
	case LOGTYPE_STATUSCHANGED:
		return &LogStatusChanged{}
	case LOGTYPE_UPDATESTARTED:
		return &LogUpdateStarted{}
	case LOGTYPE_UPDATECOMPLETED:
		return &LogUpdateCompleted{}
	default:
	}
	return nil
}

type LogAction interface {
	GetType() LogType
	GetMirrorName() string
	GetTimestamp() time.Time
	GetOutput() string
}

type LogCommonAction struct {
	Type       LogType
	MirrorName string
	Timestamp  time.Time
}

func (l LogCommonAction) GetType() LogType             { return l.Type }
func (l LogCommonAction) GetMirrorName() string         { return l.MirrorName }
func (l LogCommonAction) GetTimestamp() time.Time       { return l.Timestamp }

type LogError struct {
	LogCommonAction
	Err string
}

func (l *LogError) GetOutput() string {
	return fmt.Sprintf("Error: %s", l.Err)
}

func NewLogError(name string, err error) LogAction {
	return &LogError{
		LogCommonAction: LogCommonAction{Type: LOGTYPE_ERROR, MirrorName: name, Timestamp: time.Now()},
		Err:             err.Error(),
	}
}

type LogAdded struct {
	LogCommonAction
}

func (l *LogAdded) GetOutput() string { return "Mirror added" }

func NewLogAdded(name string) LogAction {
	return &LogAdded{LogCommonAction{Type: LOGTYPE_ADDED, MirrorName: name, Timestamp: time.Now()}}
}

type LogRemoved struct {
	LogCommonAction
}

func (l *LogRemoved) GetOutput() string { return "Mirror removed" }

func NewLogRemoved(name string) LogAction {
	return &LogRemoved{LogCommonAction{Type: LOGTYPE_REMOVED, MirrorName: name, Timestamp: time.Now()}}
}

type LogEnabled struct {
	LogCommonAction
}

func (l *LogEnabled) GetOutput() string { return "Mirror enabled" }

func NewLogEnabled(name string) LogAction {
	return &LogEnabled{LogCommonAction{Type: LOGTYPE_ENABLED, MirrorName: name, Timestamp: time.Now()}}
}

type LogDisabled struct {
	LogCommonAction
}

func (l *LogDisabled) GetOutput() string { return "Mirror disabled" }

func NewLogDisabled(name string) LogAction {
	return &LogDisabled{LogCommonAction{Type: LOGTYPE_DISABLED, MirrorName: name, Timestamp: time.Now()}}
}

type LogStatusChanged struct {
	LogCommonAction
	Status string
	Reason string
}

func (l *LogStatusChanged) GetOutput() string {
	if l.Status == "ok" {
		return "Mirror is ok"
	}
	if len(l.Reason) == 0 {
		return fmt.Sprintf("Mirror status: %s", l.Status)
	}
	return fmt.Sprintf("Mirror status: %s (%s)", l.Status, l.Reason)
}

func NewLogStatusChanged(name, status, reason string) LogAction {
	return &LogStatusChanged{
		LogCommonAction: LogCommonAction{Type: LOGTYPE_STATUSCHANGED, MirrorName: name, Timestamp: time.Now()},
		Status:          status,
		Reason:          reason,
	}
}

type LogUpdateStarted struct {
	LogCommonAction
	MirrorCount int
}

func (l *LogUpdateStarted) GetOutput() string {
	return fmt.Sprintf("Update started for %d mirrors", l.MirrorCount)
}

func NewLogUpdateStarted(count int) LogAction {
	return &LogUpdateStarted{
		LogCommonAction: LogCommonAction{Type: LOGTYPE_UPDATESTARTED, Timestamp: time.Now()},
		MirrorCount:     count,
	}
}

type LogUpdateCompleted struct {
	LogCommonAction
	Working  int
	Expired  int
	Failed   int
	Duration time.Duration
}

func (l *LogUpdateCompleted) GetOutput() string {
	return fmt.Sprintf("Update completed in %s: %d ok, %d expired, %d failed", l.Duration, l.Working, l.Expired, l.Failed)
}

func NewLogUpdateCompleted(working, expired, failed int, duration time.Duration) LogAction {
	return &LogUpdateCompleted{
		LogCommonAction: LogCommonAction{Type: LOGTYPE_UPDATECOMPLETED, Timestamp: time.Now()},
		Working:         working,
		Expired:         expired,
		Failed:          failed,
		Duration:        duration,
	}
}

// PushLog appends a log action to the per-mirror (or global, for name="")
// audit trail kept in redis.
func PushLog(r *database.Redis, logAction LogAction) error {
	conn := r.Get()
	defer conn.Close()

	key := fmt.Sprintf("MIRRORLOGS_%s", logAction.GetMirrorName())
	value, err := json.Marshal(logAction)
	if err != nil {
		return err
	}

	_, err = conn.Do("RPUSH", key, value)
	return err
}

// ReadLogs returns up to max formatted log lines for a mirror, most recent last.
func ReadLogs(r *database.Redis, mirrorName string, max int) ([]string, error) {
	conn := r.Get()
	defer conn.Close()

	if max <= 0 {
		max = 500
	}

	key := fmt.Sprintf("MIRRORLOGS_%s", mirrorName)
	lines, err := redis.Strings(conn.Do("LRANGE", key, max*-1, -1))
	if err != nil {
		return nil, err
	}

	outputs := make([]string, 0, len(lines))

	for _, line := range lines {
		var objmap map[string]interface{}
		if err := json.Unmarshal([]byte(line), &objmap); err != nil {
			log.Warningf("unable to parse mirror log line: %s", err)
			continue
		}

		typf, ok := objmap["Type"].(float64)
		if !ok {
			log.Warning("unable to parse mirror log line")
			continue
		}

		action := typeToInstance(LogType(int(typf)))
		if action == nil {
			log.Warning("unknown mirror log action")
			continue
		}

		if err := json.Unmarshal([]byte(line), action); err != nil {
			log.Warningf("unable to unmarshal mirror log line: %s", err)
			continue
		}

		outputs = append(outputs, fmt.Sprintf("%s: %s", action.GetTimestamp().Format("2006-01-02 15:04:05 MST"), action.GetOutput()))
	}

	return outputs, nil
}

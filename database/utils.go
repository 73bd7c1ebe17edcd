// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package database

import "errors"

// NetReadyError is returned by NotReadyError's redis.Conn stub methods. It
// implements net.Error as Temporary so callers that retry on temporary
// network errors back off instead of treating this as fatal.
type NetReadyError struct {
	error
}

func (n *NetReadyError) Timeout() bool   { return false }
func (n *NetReadyError) Temporary() bool { return true }

func NewNetTemporaryError() NetReadyError {
	return NetReadyError{
		error: errors.New("database not ready"),
	}
}

// NotReadyError is a redis.Conn stub returned by Redis.UnblockedGet while the
// connection pool is in a known failure state, so callers don't block
// waiting on a dialer that is already failing.
type NotReadyError struct{}

func (e *NotReadyError) Close() error {
	return NewNetTemporaryError()
}

func (e *NotReadyError) Err() error {
	return NewNetTemporaryError()
}

func (e *NotReadyError) Do(commandName string, args ...interface{}) (reply interface{}, err error) {
	return nil, NewNetTemporaryError()
}

func (e *NotReadyError) Send(commandName string, args ...interface{}) error {
	return NewNetTemporaryError()
}

func (e *NotReadyError) Flush() error {
	return NewNetTemporaryError()
}

func (e *NotReadyError) Receive() (reply interface{}, err error) {
	return nil, NewNetTemporaryError()
}

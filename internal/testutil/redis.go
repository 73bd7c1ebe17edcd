// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

// Package testutil provides the redigomock-backed redis test double shared
// by package tests that need a *database.Redis without a live server.
package testutil

import (
	"github.com/distromirrors/mirrorsd/database"
	"github.com/gomodule/redigo/redis"
	"github.com/rafaeljusto/redigomock"
)

type redisPoolMock struct {
	Conn *redigomock.Conn
}

func (r *redisPoolMock) Get() redis.Conn { return r.Conn }
func (r *redisPoolMock) Close() error    { return nil }

// PrepareRedisTest returns a mocked redis connection plus a *database.Redis
// wrapping it, ready for ConnectPubsub and command expectations.
func PrepareRedisTest() (*redigomock.Conn, *database.Redis) {
	mock := redigomock.NewConn()
	conn := database.NewRedisCustomPool(&redisPoolMock{Conn: mock})
	return mock, conn
}

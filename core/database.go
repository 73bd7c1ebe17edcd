// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package core

const (
	// RedisMinimumVersion contains the minimum redis version required to run the application
	RedisMinimumVersion = "3.2.0"
	// DBVersion represents the current relational schema version
	DBVersion = 1
	// DBVersionKey contains the global redis key caching the relational schema version
	DBVersionKey = "MIRRORSD_DB_VERSION"
)

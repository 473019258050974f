package redisserver

import (
	"runtime"

	"github.com/raniellyferreira/redis-inmemory-server/server"
)

// Version is the current version of the redis-inmemory-server library.
const Version = "0.1.0"

// RedisVersion is the Redis version the server reports to clients
const RedisVersion = server.RedisVersion

// GitCommit is the git commit hash (set by build flags)
var GitCommit string

// BuildTime is the build timestamp (set by build flags)
var BuildTime string

// VersionInfo returns version details for INFO and the version command
func VersionInfo() map[string]string {
	return map[string]string{
		"version":       Version,
		"redis_version": RedisVersion,
		"git_commit":    GitCommit,
		"build_time":    BuildTime,
		"go_version":    runtime.Version(),
	}
}

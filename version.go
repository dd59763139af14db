package redisclient

// Version is the current version of the redis-native-client library.
const Version = "0.3.0"

// GitCommit is the git commit hash, set with -ldflags "-X".
var GitCommit string

// versionFields tags the manager's start-up log line with the build
func versionFields() []Field {
	fields := []Field{{"version", Version}}
	if GitCommit != "" {
		fields = append(fields, Field{"commit", GitCommit})
	}
	return fields
}

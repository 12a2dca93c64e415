package coopapi

import (
	"bytes"
	"os"
	"strconv"

	"github.com/groblegark/coop-sub001/internal/session"
)

// EnvListResult is the result of ListEnv.
type EnvListResult struct {
	Vars    map[string]string
	Pending map[string]string
}

// EnvGetResult is the result of GetEnv.
type EnvGetResult struct {
	Key    string
	Value  string
	Found  bool
	Source string // "pending" or "child"
}

// readChildEnviron parses /proc/{pid}/environ's null-separated KEY=VALUE
// pairs. Returns an empty map if the child isn't running or the
// pseudo-file can't be read (e.g. non-Linux, or the process already
// exited). Ported from original_source transport/http/env.rs
// read_child_environ.
func readChildEnviron(pid int32) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(int(pid)) + "/environ")
	if err != nil {
		return out
	}
	for _, chunk := range bytes.Split(data, []byte{0}) {
		if len(chunk) == 0 {
			continue
		}
		k, v, ok := bytes.Cut(chunk, []byte{'='})
		if !ok {
			continue
		}
		out[string(k)] = string(v)
	}
	return out
}

// ListEnv lists the child process's live environment plus any staged
// pending overrides.
func ListEnv(store *session.Store) (EnvListResult, *Error) {
	pid := store.ChildPID()
	if pid == 0 {
		return EnvListResult{}, newError(Exited, "child process not running")
	}
	return EnvListResult{Vars: readChildEnviron(pid), Pending: store.PendingEnv()}, nil
}

// GetEnv reads one variable, preferring a staged pending override over
// the child's live environment.
func GetEnv(store *session.Store, key string) (EnvGetResult, *Error) {
	if val, ok := store.PendingEnvValue(key); ok {
		return EnvGetResult{Key: key, Value: val, Found: true, Source: "pending"}, nil
	}

	pid := store.ChildPID()
	if pid == 0 {
		return EnvGetResult{}, newError(Exited, "child process not running")
	}
	val, ok := readChildEnviron(pid)[key]
	return EnvGetResult{Key: key, Value: val, Found: ok, Source: "child"}, nil
}

// PutEnv stages an environment variable override applied on the next
// session switch (profile rotation / restart).
func PutEnv(store *session.Store, key, value string) {
	store.PutPendingEnv(key, value)
}

// DeleteEnv removes a staged environment variable override, reporting
// whether one was present.
func DeleteEnv(store *session.Store, key string) bool {
	return store.DeletePendingEnv(key)
}

// GetSessionCwd reads the child process's working directory via the
// /proc/{pid}/cwd symlink.
func GetSessionCwd(store *session.Store) (string, *Error) {
	pid := store.ChildPID()
	if pid == 0 {
		return "", newError(Exited, "child process not running")
	}
	link, err := os.Readlink("/proc/" + strconv.Itoa(int(pid)) + "/cwd")
	if err != nil {
		return "", newError(Internal, "cannot read cwd: "+err.Error())
	}
	return link, nil
}

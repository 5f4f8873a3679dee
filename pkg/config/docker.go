package config

import (
	"os"
	"sync"
)

// DockerHostEnv overrides the alias loopback hosts are rewritten to inside a
// container.
const DockerHostEnv = "PGHARMONY_DOCKER_HOST"

const defaultDockerHost = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker rewrites loopback database hosts to the Docker host
// alias when running in a container, so a server on the host machine stays
// reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() || !isLoopback(host) {
		return host
	}
	if alias := os.Getenv(DockerHostEnv); alias != "" {
		return alias
	}
	return defaultDockerHost
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

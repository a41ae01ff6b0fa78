package docker

import (
	"fmt"
	"sort"
)

type EnvVars []string

// ConstructEnvs converts a {key: value} map into a docker-friendly
// []string{"KEY=value", ...} slice, sorted for stable output.
func ConstructEnvs(envs map[string]string) EnvVars {
	var dockerEnvs EnvVars
	for k, v := range envs {
		dockerEnvs = append(dockerEnvs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(dockerEnvs)
	return dockerEnvs
}

// Slice returns the EnvVars as a []string slice.
func (ev EnvVars) Slice() []string {
	return ev
}

// AddEnv adds a key=value string to the EnvVars.
func (ev *EnvVars) AddEnv(key, value string) {
	*ev = append(*ev, fmt.Sprintf("%s=%s", key, value))
}

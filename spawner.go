package director

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
)

// SpawnSpec describes the process started for a provider
type SpawnSpec struct {
	// Provider is the provider name
	Provider string
	// Executable is the program path
	Executable string
	// Args are the program arguments without argv[0]
	Args []string
	// Env holds extra KEY=value entries added to the daemon's environment
	Env []string
	// EnvFile is a dotenv file merged into Env, Env winning on conflicts
	EnvFile string
}

// Spawner starts provider processes. The returned pid is not waited on;
// exit statuses are collected by the Reaper.
type Spawner interface {
	Spawn(spec SpawnSpec) (pid int, err error)
}

// SpawnSpecFor builds the spawn description of a provider from its configuration
func SpawnSpecFor(provider string, src ConfigSource) SpawnSpec {
	data := src.Data(provider)
	spec := SpawnSpec{
		Provider:   provider,
		Executable: data[KeyExecutable],
		Args:       strings.Fields(data[KeyArguments]),
		EnvFile:    data[KeyEnvironmentFile],
	}

	var keys []string
	for k := range data {
		if strings.HasPrefix(k, EnvironmentPrefix) && len(k) > len(EnvironmentPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec.Env = append(spec.Env, strings.TrimPrefix(k, EnvironmentPrefix)+"="+data[k])
	}
	return spec
}

// ExecSpawner starts providers with os/exec in their own session
type ExecSpawner struct {
	// Dir is the working directory of spawned processes, "/" when empty
	Dir string
}

// Spawn starts the process described by spec
func (s *ExecSpawner) Spawn(spec SpawnSpec) (int, error) {
	if spec.Executable == "" {
		return 0, &OpError{Op: OpSpawn, Subject: spec.Provider, Err: fmt.Errorf("no %s configured", KeyExecutable)}
	}

	env := os.Environ()
	if spec.EnvFile != "" {
		fileEnv, err := godotenv.Read(spec.EnvFile)
		if err != nil {
			return 0, &OpError{Op: OpSpawn, Subject: spec.Provider, Err: fmt.Errorf("environment file: %w", err)}
		}
		keys := make([]string, 0, len(fileEnv))
		for k := range fileEnv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+fileEnv[k])
		}
	}
	env = append(env, spec.Env...)

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Env = env
	cmd.Dir = s.Dir
	if cmd.Dir == "" {
		cmd.Dir = "/"
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, &OpError{Op: OpSpawn, Subject: spec.Provider, Err: err}
	}

	pid := cmd.Process.Pid
	// the reaper owns the wait status
	_ = cmd.Process.Release()
	return pid, nil
}

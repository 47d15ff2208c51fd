package evaluation

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Environment records what is needed to reproduce a run: the toolchain and
// host it ran on and the settings of its random components.
type Environment struct {
	GoVersion    string `json:"goVersion"`               // Runtime version
	OS           string `json:"os"`                      // GOOS
	Architecture string `json:"architecture"`            // GOARCH
	NumCPU       int    `json:"numCpu"`                  // Logical CPUs
	Hostname     string `json:"hostname,omitempty"`      // Host the run executed on
	Module       string `json:"module,omitempty"`        // Main module path
	ModuleVer    string `json:"moduleVersion,omitempty"` // Main module version
	Timezone     string `json:"timezone"`                // Local time zone
	Seed         uint64 `json:"seed"`                    // Bootstrap seed
	Resamples    int    `json:"resamples"`               // Bootstrap resamples
}

// captureEnvironment snapshots the runtime and the bootstrap settings.
func (a *Analyzer) captureEnvironment() Environment {
	env := Environment{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		Timezone:     time.Now().Location().String(),
		Seed:         a.config.Bootstrap.Seed,
		Resamples:    a.config.Bootstrap.Resamples,
	}

	hostname, err := os.Hostname()
	if err != nil {
		a.logger.Warn("Failed to capture hostname", zap.Error(err))
	} else {
		env.Hostname = hostname
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		env.Module = info.Main.Path
		env.ModuleVer = info.Main.Version
	}
	return env
}

package sensors

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// gpuProbe reads utilisation from nvidia-smi when present. Hosts without the
// binary report no GPU and the daemon skips the probe on every poll.
type gpuProbe struct {
	binary    string
	available bool
}

func newGPUProbe() *gpuProbe {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return &gpuProbe{}
	}
	return &gpuProbe{binary: path, available: true}
}

func (g *gpuProbe) Available() bool { return g.available }

// read returns (gpu%, gpu memory%) for the first device.
func (g *gpuProbe) read(ctx context.Context) (float64, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, g.binary,
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, 0, err
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return 0, 0, nil
	}
	util, _ := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	used, _ := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	total, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	memPercent := 0.0
	if total > 0 {
		memPercent = used / total * 100
	}
	return util, memPercent, nil
}

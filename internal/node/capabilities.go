package node

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/plexus-mesh/plexus/internal/meshproto"
)

// SystemInfo is the reply payload for a GetSystemInfo command: a
// best-effort probe of the host's compute resources, independent of any
// engine's loaded state.
type SystemInfo struct {
	CPUCores    int
	TotalMemory uint64
	Device      string
}

// probeCapabilities builds the capabilities advertised in this node's
// Heartbeat. modelLoaded reflects the text engine's current state at the
// moment of the probe.
func probeCapabilities(model string, device string, modelLoaded bool) meshproto.NodeCapabilities {
	info := probeSystemInfo(device)
	return meshproto.NodeCapabilities{
		CPUCores:    uint32(info.CPUCores),
		TotalMemory: info.TotalMemory,
		GPU:         gpuLabel(device),
		ModelLoaded: modelLoaded,
	}
}

// gpuLabel reports the configured GPU name, or "" when running on CPU.
// There is no CGo/GPU backend in this implementation, so a configured
// "gpu" device degrades to CPU execution but is still reported here for
// mesh-wide visibility.
func gpuLabel(device string) string {
	if device == "gpu" {
		return "gpu"
	}
	return ""
}

// probeSystemInfo reports logical CPU count and total system memory,
// falling back to a zero memory reading when the host's memory accounting
// cannot be read (non-Linux, or /proc unavailable).
func probeSystemInfo(device string) SystemInfo {
	return SystemInfo{
		CPUCores:    runtime.NumCPU(),
		TotalMemory: totalMemoryBytes(),
		Device:      device,
	}
}

// totalMemoryBytes reads MemTotal from /proc/meminfo on Linux. Best effort:
// any failure (missing file, unexpected format, non-Linux host) yields 0
// rather than an error, since system info is advisory, not load-bearing.
func totalMemoryBytes() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

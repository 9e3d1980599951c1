// device.go — Host environment snapshot attached at enrichment time.
// Every source is best effort: a metric whose API is unavailable on this
// host is omitted from the record rather than set to a zero placeholder.
package eaglet

import (
	"bufio"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/Basillica/eaglet/internal/types"
)

// Version identifies this SDK in the device user agent string.
const Version = "1.0.0"

func collectDeviceInfo() *types.DeviceInfo {
	info := &types.DeviceInfo{
		OSName:              runtime.GOOS,
		Family:              runtime.GOARCH,
		UserAgent:           "eaglet/" + Version + " " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH,
		HardwareConcurrency: runtime.NumCPU(),
	}
	if host, err := os.Hostname(); err == nil {
		info.Model = host
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.TotalHeapSize = ms.HeapSys
	info.UsedHeapSize = ms.HeapAlloc

	// SetMemoryLimit(-1) reads the soft limit without changing it; the
	// sentinel MaxInt64 means no limit was ever set.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		info.HeapSizeLimit = uint64(limit)
	}

	if gb := totalSystemMemoryGB(); gb > 0 {
		info.DeviceMemory = gb
	}
	return info
}

// totalSystemMemoryGB reads the host memory size where the proc filesystem
// exposes it. Returns 0 elsewhere.
func totalSystemMemoryGB() float64 {
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
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		// Round to a tenth of a GiB.
		return math.Round(kb/1024/1024*10) / 10
	}
	return 0
}

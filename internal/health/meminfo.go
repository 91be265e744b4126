package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MemInfo samples MemAvailable from /proc/meminfo.
type MemInfo struct {
	Path string
}

func NewMemInfo() *MemInfo { return &MemInfo{Path: "/proc/meminfo"} }

func (m *MemInfo) Available(ctx context.Context) (uint64, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var free, buffers, cached uint64
	var haveFree bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 1 && strings.EqualFold(fields[1], "kB") {
			v *= 1024
		}
		switch key {
		case "MemAvailable":
			return v, nil
		case "MemFree":
			free, haveFree = v, true
		case "Buffers":
			buffers = v
		case "Cached":
			cached = v
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	// Kernels before 3.14 have no MemAvailable.
	if haveFree {
		return free + buffers + cached, nil
	}
	return 0, fmt.Errorf("meminfo: no MemAvailable or MemFree in %s", m.Path)
}

package worker

// MemoryStats is a point-in-time snapshot of system memory, surfaced in the
// scheduler's periodic stats log so operators can correlate queue behavior
// with host pressure.
type MemoryStats struct {
	UsedGB  float64
	TotalGB float64
	Percent float64
}

// getMemoryStats is implemented per platform in the build-tagged
// system_metrics_*.go files.

// ReadMemoryStats returns current system memory usage
func ReadMemoryStats() (MemoryStats, error) {
	total, available, err := getMemoryStats()
	if err != nil {
		return MemoryStats{}, err
	}
	if total == 0 {
		return MemoryStats{}, nil
	}

	used := total - available
	const gb = 1024 * 1024 * 1024
	return MemoryStats{
		UsedGB:  float64(used) / gb,
		TotalGB: float64(total) / gb,
		Percent: float64(used) / float64(total) * 100,
	}, nil
}

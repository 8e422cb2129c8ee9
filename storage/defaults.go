package storage

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultNotifyConcurrency = 4
	notifyPerCPU             = 10
	maxNotifyConcurrency     = 64
)

func notifyConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultNotifyConcurrency
	}
	count := cpu * notifyPerCPU
	if count > maxNotifyConcurrency {
		return maxNotifyConcurrency
	}
	return count
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDur(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

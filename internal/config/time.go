package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultExpiryCheckInterval    = 30 * time.Minute
	defaultUsageSyncInterval      = time.Hour
	defaultUsageBroadcastInterval = 3 * time.Second
	defaultSnapshotExportInterval = 5 * time.Minute
)

var (
	expiryCheckInterval    atomic.Value
	usageSyncInterval      atomic.Value
	usageBroadcastInterval atomic.Value
	snapshotExportInterval atomic.Value

	broadcastIntervalListeners []chan time.Duration
	listenersMu                sync.Mutex
)

func init() {
	expiryCheckInterval.Store(defaultExpiryCheckInterval)
	usageSyncInterval.Store(defaultUsageSyncInterval)
	usageBroadcastInterval.Store(defaultUsageBroadcastInterval)
	snapshotExportInterval.Store(defaultSnapshotExportInterval)
}

func SetBetweenTime() {
	cfg := GetConfig()
	expiryCheckInterval.Store(timerOrDefault(cfg.Keys.ExpiryCheckTimer, defaultExpiryCheckInterval))
	usageSyncInterval.Store(timerOrDefault(cfg.Usage.SyncTimer, defaultUsageSyncInterval))
	snapshotExportInterval.Store(timerOrDefault(cfg.Snapshot.ExportTimer, defaultSnapshotExportInterval))
	setUsageBroadcastInterval(timerOrDefault(cfg.Usage.BroadcastTimer, defaultUsageBroadcastInterval))
}

func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	// Enforce minimum interval of one second
	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetExpiryCheckInterval() time.Duration {
	return expiryCheckInterval.Load().(time.Duration)
}

func GetUsageSyncInterval() time.Duration {
	return usageSyncInterval.Load().(time.Duration)
}

func GetSnapshotExportInterval() time.Duration {
	return snapshotExportInterval.Load().(time.Duration)
}

func GetUsageBroadcastInterval() time.Duration {
	return usageBroadcastInterval.Load().(time.Duration)
}

// BroadcastIntervalUpdates returns a channel that receives the current
// broadcast interval immediately and every subsequent change. The usage
// broadcast loop re-arms its ticker from it.
func BroadcastIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	broadcastIntervalListeners = append(broadcastIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetUsageBroadcastInterval()
	return ch
}

func setUsageBroadcastInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultUsageBroadcastInterval
	}

	current := GetUsageBroadcastInterval()
	if current == interval {
		return
	}

	usageBroadcastInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range broadcastIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

package bot

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

const (
	memWarnThresholdBytes  = 600 << 20
	memCritThresholdBytes  = 1200 << 20
	memCheckInterval       = 30 * time.Second
	memWarnCooldown        = 10 * time.Minute
	goroutineWarnThreshold = 500
	goroutineCritThreshold = 1000
)

// runMemoryWatcher alerts the admin chat when heap or goroutine count grows
// past the warning thresholds, and shuts the service down past the critical
// ones.
func (b *TelegramBot) runMemoryWatcher(ctx context.Context) {
	ticker := time.NewTicker(memCheckInterval)
	defer ticker.Stop()

	var lastWarnAt time.Time
	b.log.Infof("memwatch: started (warn=%dMB, crit=%dMB, goroutines warn=%d crit=%d)",
		memWarnThresholdBytes>>20, memCritThresholdBytes>>20, goroutineWarnThreshold, goroutineCritThreshold)

	for {
		select {
		case <-ctx.Done():
			b.log.Infof("memwatch: stopped")
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			msg, emergency := memVerdict(ms.HeapAlloc, ms.Sys, runtime.NumGoroutine(), time.Since(lastWarnAt) > memWarnCooldown)
			if msg == "" {
				continue
			}
			if emergency {
				b.log.Errorf("memwatch: CRITICAL heap=%dMB goroutines=%d", ms.HeapAlloc>>20, runtime.NumGoroutine())
			} else {
				b.log.Warnf("memwatch: WARNING heap=%dMB goroutines=%d", ms.HeapAlloc>>20, runtime.NumGoroutine())
				runtime.GC()
				lastWarnAt = time.Now()
			}
			b.sendMemAlert(msg, emergency)
			if emergency {
				return
			}
		}
	}
}

// memVerdict returns the alert for the given usage, if any, and whether it
// calls for a shutdown. Warnings are only produced when warnDue is set.
func memVerdict(heap, sys uint64, goroutines int, warnDue bool) (string, bool) {
	heapMB, sysMB := heap>>20, sys>>20
	switch {
	case goroutines >= goroutineCritThreshold:
		return fmt.Sprintf("🚨 Troppe goroutine, arresto di emergenza!\nGoroutine: %d (soglia %d)\nHeap: %d MB / Sys: %d MB",
			goroutines, goroutineCritThreshold, heapMB, sysMB), true
	case heap >= memCritThresholdBytes:
		return fmt.Sprintf("🚨 Memoria critica, arresto di emergenza!\nHeap: %d MB (soglia %d MB)\nSys: %d MB\nGoroutine: %d",
			heapMB, memCritThresholdBytes>>20, sysMB, goroutines), true
	case warnDue && (heap > memWarnThresholdBytes || goroutines >= goroutineWarnThreshold):
		return fmt.Sprintf("⚠️ Consumo di risorse elevato\nHeap: %d MB (soglia %d MB)\nSys: %d MB\nGoroutine: %d (soglia %d)\n\nIl monitoraggio continua.",
			heapMB, memWarnThresholdBytes>>20, sysMB, goroutines, goroutineWarnThreshold), false
	}
	return "", false
}

// sendMemAlert notifies the admin chat. An emergency alert also cancels the
// service context after giving the message time to go out.
func (b *TelegramBot) sendMemAlert(msg string, emergency bool) {
	if b.cfg.AdminChatID != 0 {
		b.replyText(b.cfg.AdminChatID, msg)
		if emergency {
			time.Sleep(3 * time.Second)
		}
	} else {
		b.log.Warnf("memwatch: ADMIN_CHAT_ID not set, alert not delivered: %s", msg)
	}

	if emergency && b.cancelFunc != nil {
		b.log.Errorf("memwatch: cancelling service context for emergency shutdown")
		b.cancelFunc()
	}
}

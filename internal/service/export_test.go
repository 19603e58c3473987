package service

import (
	"context"
	"time"
)

// SetEngineClock replaces the clock and sleep function of an engine built
// by NewIssueSyncEngine.
func SetEngineClock(e IssueSyncEngine, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	engine := e.(*issueSyncEngine)
	if now != nil {
		engine.now = now
	}
	if sleep != nil {
		engine.sleep = sleep
	}
}

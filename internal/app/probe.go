package app

import (
	"context"

	"v2neko/internal/logger"
	"v2neko/internal/model"
	"v2neko/internal/tester"
	"v2neko/internal/xray"
)

// Probe measures the given profiles (all when ids is empty) and stores the
// delay in milliseconds. Failed probes store -1. onResult may be nil.
func (a *App) Probe(ctx context.Context, ids []string, mode tester.Mode, rec tester.Recorder, onResult func(tester.Result)) error {
	var profiles []model.ProxyProfile
	if len(ids) == 0 {
		all, err := a.store.List()
		if err != nil {
			return err
		}
		profiles = all
	} else {
		for _, id := range ids {
			p, err := a.store.Get(id)
			if err != nil {
				return err
			}
			profiles = append(profiles, *p)
		}
	}

	jobs := make([]tester.Job, 0, len(profiles))
	for _, p := range profiles {
		out, err := xray.ReadOutbound(p.ConfigPath)
		if err != nil {
			logger.Log.Warnf("Skipping %s: %v", p.ID, err)
			continue
		}
		jobs = append(jobs, tester.Job{ID: p.ID, Outbound: *out})
	}

	a.mu.Lock()
	t := tester.New(a.cfg.Probe, rec)
	a.mu.Unlock()

	t.Run(ctx, jobs, mode, func(res tester.Result) {
		ms := model.UnmeasuredDelay
		if res.Err == nil {
			ms = int(res.Delay.Milliseconds())
		} else {
			logger.Log.Debugf("Probe %s failed: %v", res.ID, res.Err)
		}
		if err := a.store.SetDelay(res.ID, ms); err != nil {
			logger.Log.Warnf("Failed to store delay of %s: %v", res.ID, err)
		}
		if onResult != nil {
			onResult(res)
		}
	})
	return nil
}

package engine

import "context"

// cleanup trims a monitor's history to the configured keep-counts. Runs
// after the current check's rows are written, so the newest rows always
// survive. Failures are logged, never fatal to the check.
func (e *Engine) cleanup(ctx context.Context, monitorID string) {
	if n, err := e.store.TrimSnapshots(ctx, monitorID, e.cfg.KeepSnapshots); err != nil {
		e.logger.Warn("trim snapshots", "monitor", monitorID, "error", err)
	} else if n > 0 {
		e.logger.Debug("trimmed snapshots", "monitor", monitorID, "removed", n)
	}
	if n, err := e.store.TrimChanges(ctx, monitorID, e.cfg.KeepChanges); err != nil {
		e.logger.Warn("trim changes", "monitor", monitorID, "error", err)
	} else if n > 0 {
		e.logger.Debug("trimmed changes", "monitor", monitorID, "removed", n)
	}
}

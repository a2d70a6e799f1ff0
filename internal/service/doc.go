// Package service runs the background update loop.
//
// A single service instance per state directory is enforced via a PID lock
// file with stale-lock reclamation. The scheduler wakes at the configured
// interval, queries each tracked package's backend for its latest version,
// records the check, and either reports pending updates or applies them
// (download, verify, safety-validate, install) depending on configuration.
//
// Key features:
//   - PID lock file with dead-process detection (signal 0)
//   - Config hot-reload via fsnotify on the state directory
//   - Cooperative stop: shutdown only between packages, never mid-install
//   - Persisted schedule state so restarts resume the cadence
//
// Example usage:
//
//	paths, err := service.DefaultPaths()
//	if err != nil {
//		log.Fatal(err)
//	}
//	hist, err := history.Open(paths.HistoryDB)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer hist.Close()
//
//	s := service.New(paths, registry, hist)
//	if err := service.RunService(context.Background(), s, paths); err != nil {
//		log.Fatal(err)
//	}
package service

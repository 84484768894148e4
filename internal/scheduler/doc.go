// Package scheduler drives the post cycle forever.
//
// Cadence:
//   - after a successful cycle, wake at the next whole UTC hour
//   - after any failure, retry after a fixed delay (5 minutes)
//
// Waits that come out zero or negative (clock skew) are skipped.
package scheduler

// Package dedupe provides an idempotency-key cache so a retried request within
// a configurable window returns the original result instead of acting twice.
package dedupe

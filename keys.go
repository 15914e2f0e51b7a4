package limitforge

import "fmt"

// Counter keys are part of the wire contract with the shared store:
// rolling deployments rely on old and new instances deriving identical
// keys, so these shapes must not change. Components are used verbatim;
// callers normalize tenant/subject/resource before deriving.

// KeyTokenBucket returns the counter key for a token bucket.
func KeyTokenBucket(tenantID, subject, resource string) string {
	return fmt.Sprintf("lf:tb:%s:%s:%s", tenantID, subject, resource)
}

// KeyFixedWindow returns the counter key for one fixed window. The
// window epoch is baked into the key, so a new window is a new key.
func KeyFixedWindow(tenantID, subject, resource string, windowEpoch int64) string {
	return fmt.Sprintf("lf:fw:%s:%s:%s:%d", tenantID, subject, resource, windowEpoch)
}

// KeySlidingWindow returns the sorted-set key for a sliding window log.
func KeySlidingWindow(tenantID, subject, resource string) string {
	return fmt.Sprintf("lf:sw:%s:%s:%s", tenantID, subject, resource)
}

// KeyConcurrency returns the in-flight slot counter key.
func KeyConcurrency(tenantID, subject, resource string) string {
	return fmt.Sprintf("lf:cc:%s:%s:%s", tenantID, subject, resource)
}

// WindowEpoch returns the aligned start (unix seconds) of the fixed
// window containing nowMS.
func WindowEpoch(nowMS, windowSeconds int64) int64 {
	nowS := nowMS / 1000
	return nowS - nowS%windowSeconds
}

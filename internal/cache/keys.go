package cache

import "time"

// Default TTLs per key class. These mirror the freshness requirements of each
// projection: progress stats go stale fastest, analytics slowest.
const (
	TTLRoadmap      = 300 * time.Second // single roadmap projection
	TTLUserRoadmaps = 600 * time.Second // user's roadmap list
	TTLProgress     = 60 * time.Second  // progress statistics
	TTLAnalytics    = 900 * time.Second // user analytics
	TTLLock         = 30 * time.Second  // advisory lock timeout
)

// Cache keys are colon-delimited and deterministic from their inputs so that
// writers can invalidate exactly the projections a mutation affects. Keeping
// the constructors in one place stops ad-hoc keys from spreading through the
// code.

// RoadmapKey is the projection of a single roadmap.
func RoadmapKey(userID, roadmapID string) string {
	return "roadmap:" + userID + ":" + roadmapID
}

// UserRoadmapsKey is the projection of a user's roadmap list.
func UserRoadmapsKey(userID string) string {
	return "user_roadmaps:" + userID
}

// ProgressKey is the derived progress statistics of one roadmap.
func ProgressKey(userID, roadmapID string) string {
	return "progress:" + userID + ":" + roadmapID
}

// AnalyticsKey is the cross-roadmap analytics of one user.
func AnalyticsKey(userID string) string {
	return "analytics:" + userID
}

// LockKey derives the advisory lock key for a subject key.
func LockKey(subject string) string {
	return subject + ":lock"
}

// keyClass returns the segment before the first colon, used as a bounded-
// cardinality metric label ("roadmap", "progress", ...).
func keyClass(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

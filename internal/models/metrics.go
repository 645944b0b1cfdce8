package models

import "time"

// EngineMetrics is a point-in-time aggregation of engine activity,
// served by the operational summary endpoint.
type EngineMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	EnrollmentRequests       uint64    `json:"enrollment_requests"`
	Drops                    uint64    `json:"drops"`
	WaitlistPromotions       uint64    `json:"waitlist_promotions"`
	GradeSubmissions         uint64    `json:"grade_submissions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

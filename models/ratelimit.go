package models

// RateLimitInfo tracks the two request quotas the API reports on every
// response: a short 15-minute window and a daily window.
type RateLimitInfo struct {
	FifteenMinUsage int
	FifteenMinLimit int
	DailyUsage      int
	DailyLimit      int
}

// NewRateLimitInfo returns the default Strava quota shape for an
// unverified application.
func NewRateLimitInfo() RateLimitInfo {
	return RateLimitInfo{
		FifteenMinUsage: 0,
		FifteenMinLimit: 100,
		DailyUsage:      0,
		DailyLimit:      1000,
	}
}

// SetUsage records reported usage, clamped so usage never exceeds the
// known limit even when a header claims otherwise.
func (r *RateLimitInfo) SetUsage(fifteenMin, daily int) {
	r.FifteenMinUsage = clamp(fifteenMin, r.FifteenMinLimit)
	r.DailyUsage = clamp(daily, r.DailyLimit)
}

// SetLimits records reported limits, re-clamping current usage against
// the new values.
func (r *RateLimitInfo) SetLimits(fifteenMin, daily int) {
	if fifteenMin > 0 {
		r.FifteenMinLimit = fifteenMin
	}
	if daily > 0 {
		r.DailyLimit = daily
	}
	r.FifteenMinUsage = clamp(r.FifteenMinUsage, r.FifteenMinLimit)
	r.DailyUsage = clamp(r.DailyUsage, r.DailyLimit)
}

// FifteenMinPercent reports short-window usage as a percentage.
func (r *RateLimitInfo) FifteenMinPercent() float64 {
	return percent(r.FifteenMinUsage, r.FifteenMinLimit)
}

// DailyPercent reports daily usage as a percentage.
func (r *RateLimitInfo) DailyPercent() float64 {
	return percent(r.DailyUsage, r.DailyLimit)
}

func clamp(usage, limit int) int {
	if usage < 0 {
		return 0
	}
	if usage > limit {
		return limit
	}
	return usage
}

func percent(usage, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(usage) / float64(limit) * 100
}

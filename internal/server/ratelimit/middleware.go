// Provides rate limit response headers.

package ratelimit

import (
	"net/http"
	"strconv"
)

// WriteHeaders writes rate limit headers to the response.
// Headers are written on all responses (both success and 429).
func WriteHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// BuildKey creates a bucket key from the tier name and client IP.
func BuildKey(tierName, ip string) string {
	return "ip:" + ip + ":" + tierName
}

// Check consumes a token of tier for ip and writes the headers. It returns
// the result; the caller rejects the request when Allowed is false.
func Check(w http.ResponseWriter, tier *Tier, ip string) Result {
	if tier == nil {
		return Result{Allowed: true}
	}
	res := tier.Limiter.Allow(BuildKey(tier.Name, ip))
	WriteHeaders(w, res)
	return res
}

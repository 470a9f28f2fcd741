package internaldefs

import (
	"strconv"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "goidentity_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Rejected logins."},
	{ID: goIdentity.MetricAccountLocked, Name: "goidentity_account_locked_total", Help: "Accounts locked after failed logins."},
	{ID: goIdentity.MetricAccountUnlocked, Name: "goidentity_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Sessions opened by login."},
	{ID: goIdentity.MetricSessionEvicted, Name: "goidentity_session_evicted_total", Help: "Sessions ended by a newer login of the same user."},
	{ID: goIdentity.MetricSessionTerminated, Name: "goidentity_session_terminated_total", Help: "Sessions ended for any reason."},
	{ID: goIdentity.MetricSessionSwept, Name: "goidentity_session_swept_total", Help: "Sessions ended by the expiry sweep."},
	{ID: goIdentity.MetricSessionValidateFailure, Name: "goidentity_session_validate_failure_total", Help: "Session validations that reported inactive."},
	{ID: goIdentity.MetricLogout, Name: "goidentity_logout_total", Help: "Single-session logouts."},
	{ID: goIdentity.MetricLogoutAll, Name: "goidentity_logout_all_total", Help: "Terminate-all operations."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful refreshes."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Rejected refreshes."},
	{ID: goIdentity.MetricTokenRevoked, Name: "goidentity_token_revoked_total", Help: "Tokens added to the revocation list."},
	{ID: goIdentity.MetricOTPRequested, Name: "goidentity_otp_requested_total", Help: "OTP challenges issued or re-issued."},
	{ID: goIdentity.MetricOTPVerified, Name: "goidentity_otp_verified_total", Help: "Successful OTP verifications."},
	{ID: goIdentity.MetricOTPFailed, Name: "goidentity_otp_failed_total", Help: "Failed OTP verifications."},
	{ID: goIdentity.MetricOTPAccountLocked, Name: "goidentity_otp_account_locked_total", Help: "Accounts locked by OTP abuse."},
	{ID: goIdentity.MetricOTPDeliveryFailed, Name: "goidentity_otp_delivery_failed_total", Help: "OTP notifications that could not be sent."},
	{ID: goIdentity.MetricPasswordResetSuccess, Name: "goidentity_password_reset_success_total", Help: "Completed password resets."},
	{ID: goIdentity.MetricPasswordResetFailure, Name: "goidentity_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: goIdentity.MetricPasswordChangeSuccess, Name: "goidentity_password_change_success_total", Help: "Completed password changes."},
	{ID: goIdentity.MetricPasswordChangeFailure, Name: "goidentity_password_change_failure_total", Help: "Rejected password changes."},
	{ID: goIdentity.MetricPermissionCacheHit, Name: "goidentity_permission_cache_hit_total", Help: "Permission lookups served from cache."},
	{ID: goIdentity.MetricPermissionCacheMiss, Name: "goidentity_permission_cache_miss_total", Help: "Permission lookups resolved from the store."},
	{ID: goIdentity.MetricPermissionInvalidation, Name: "goidentity_permission_invalidation_total", Help: "Permission cache invalidations."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricValidateLatency, Name: "goidentity_validate_latency_seconds", Help: "ValidateSession latency."},
}

// HistogramBounds are goIdentity.LatencyBuckets in seconds. The overflow
// bucket has no bound.
var HistogramBounds = func() []float64 {
	out := make([]float64, len(goIdentity.LatencyBuckets))
	for i, d := range goIdentity.LatencyBuckets {
		out[i] = d.Seconds()
	}
	return out
}()

// HistogramBoundSuffix names each bucket, overflow included, for exporters
// that cannot carry an le label: 0.025 becomes "0_025".
var HistogramBoundSuffix = func() []string {
	out := make([]string, 0, len(HistogramBounds)+1)
	for _, le := range HistogramBounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(le, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}()

// Cumulative turns per-bucket counts into running totals, padding or
// truncating raw to len(HistogramBoundSuffix).
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, len(HistogramBoundSuffix))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

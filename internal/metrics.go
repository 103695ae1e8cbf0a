package internal

import "expvar"

var (
	requestsTotal   = expvar.NewMap("opencr_requests_total")
	authFailures    = expvar.NewMap("opencr_auth_failures_total")
	validationDrops = expvar.NewMap("opencr_validation_drops_total")
	publishErrors   = expvar.NewMap("opencr_publish_errors_total")
	dedupSkips      = expvar.NewMap("opencr_dedup_skips_total")
	handlerFailures = expvar.NewMap("opencr_handler_failures_total")
	postOutcomes    = expvar.NewMap("opencr_post_outcomes_total")
)

func IncRequest(platform string) {
	requestsTotal.Add(platform, 1)
}

// IncAuthFailure counts unknown-app and bad-signature rejections. The reason
// is coarse on purpose; rejected requests never echo detail to the caller.
func IncAuthFailure(platform string) {
	authFailures.Add(platform, 1)
}

func IncValidationDrop(platform string) {
	validationDrops.Add(platform, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncDedupSkip(group string) {
	dedupSkips.Add(group, 1)
}

func IncHandlerFailure(topic string) {
	handlerFailures.Add(topic, 1)
}

// IncPostOutcome distinguishes posted, suppressed and failed results so that
// duplicate suppression is observable without being counted as an error.
func IncPostOutcome(outcome string) {
	postOutcomes.Add(outcome, 1)
}

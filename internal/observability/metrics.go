package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	MSagaCompensations       MetricKey = "saga_compensations_total"
	MStockReservationRetries MetricKey = "stock_reservation_retries_total"
	MCatalogCacheLookups     MetricKey = "catalog_cache_lookups_total"
	MNotificationsPublished  MetricKey = "notifications_published_total"
)

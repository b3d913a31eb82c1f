// Package middleware provides HTTP middleware for the gateway's HTTP
// surface: Prometheus request metrics and OpenTelemetry tracing.
//
// Both are standard func(http.Handler) http.Handler wrappers and mount
// on chi or any compatible router:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Metrics())
//	r.Use(middleware.OTel())
//	r.Handle("/ws", gw)
package middleware

// Package httpserver serves the backup service and the operational
// endpoints over HTTP.
//
// The router mounts the Connect handler of the backup service next to
// /health, /ready and /metrics and wraps everything in the middleware
// chain defined in middleware.go.
package httpserver

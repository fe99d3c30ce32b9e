// Package observability turns bus events into log lines and metrics.
package observability

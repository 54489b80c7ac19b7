// Package observability provides logging, metrics, and request context
// propagation for the reference harvester service.
package observability

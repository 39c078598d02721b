// Package api provides the chat-ops gateway HTTP surface: chat platform
// entry points, the local execution endpoint, the tool-call adapter, and
// health/metrics endpoints.
package api

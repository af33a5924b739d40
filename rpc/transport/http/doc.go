// Package http implements the HTTP transport of the dwatch RPC layer.
//
// Every request is a POST to /{rangeId} with the serialized message as body. The
// server answers with the serialized response, so a pending watch keeps its HTTP
// request open until the watch resolves (net/http serves each request in its own
// goroutine). GET /metrics exposes the VictoriaMetrics registry in prometheus format
// on the same listener.
//
// The client selects the server endpoints round robin and retries failed requests
// on the next endpoint until the retry count or the context is exhausted. The
// request context is passed to net/http, so canceling a watch call on the client
// closes its connection. The server side long poll is released by the cancel request
// the client sends afterwards.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It uses
//	an atomic counter for the round robin selection.
package http

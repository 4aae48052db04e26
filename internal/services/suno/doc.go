// Package suno wraps a Suno-compatible music generation API.
//
// The client covers the three calls the music stage needs: Submit queues
// a generation request, Poll reads task state until it turns terminal,
// and Fetch streams the finished track to disk. HTTP failures come back
// classified: 401/403 as authentication, 429 as rate limiting (carrying
// any Retry-After hint), 5xx as upstream server errors, transport
// failures as network errors, and client-side deadline expiry as
// timeouts.
package suno

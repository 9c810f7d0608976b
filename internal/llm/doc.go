// Package llm talks to a locally hosted, Ollama-compatible chat endpoint.
// The client makes exactly one attempt per Invoke; retry policy lives with
// the callers. A weighted semaphore plus rate limiter bound the load the
// whole pipeline can put on the endpoint.
package llm

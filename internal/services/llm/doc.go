// Package llm provides a chat-completions client for OpenAI-compatible APIs.
//
// Evaluation uses Complete to sample base and fine-tuned models side by side
// (max_tokens 500, temperature 0.7 unless overridden). CompleteJSON requests a
// JSON object response and DecodeLLMJSON tolerates code fences and prose
// around the payload.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions, and
// network timeouts with exponential backoff (base 1s, max 10s, up to 3
// attempts by default). Context cancellation aborts retries immediately.
package llm

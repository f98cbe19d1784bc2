// Package main hosts the sipeto entrypoint.
//
// Architecture overview:
//   - Listener & sessions: internal/server binds the webhook port and runs one Session goroutine per connection.
//     Sessions read one HTTP/1.x request at a time, bound the body by server.max_body_bytes, and hand it to the
//     chi route table from internal/api. Responses are buffered and written with an exact Content-Length.
//   - Routing: POST /<bot-token> decodes a Telegram update and passes it to internal/router, which finds the first
//     Instagram, Twitter/X or TikTok link and submits a job. Other paths fall through to a body-reversing echo.
//   - Workers: jobs flow through a bounded in-memory queue sized by worker.queue_depth to a fixed pool sized by
//     worker.concurrency. Each job resolves attributes through the platform API, optionally streams the media into
//     the configured store (local/GCS/memory), records a ledger row (Postgres or memory) and publishes a Pub/Sub
//     event when a topic is configured. Results reach the chat through sendMessage.
//   - Configuration & plumbing: a dotenv file and SIPETO_* variables feed Viper; the bot's JSON config supplies the
//     token, webhook URL and per-platform API settings. Logging uses zap; Prometheus metrics are served at /metrics.
//
// Commands:
//   - sipeto serve: run the bot until SIGINT/SIGTERM, draining sessions and queued jobs within the shutdown grace.
//   - sipeto resolve <url> [--download]: resolve one link and print the result as JSON.
//   - sipeto webhook: register the webhook URL with Telegram unless it is already set.
package main

// Package api hosts the route table a Session dispatches requests to.
// Notable routes:
//   - POST /<bot-token> receives Telegram webhook updates.
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/downloads and /v1/downloads/{id} list the download ledger.
//
// Anything else goes to the fallback handler, which echoes the request body
// reversed unless replaced through Options.Fallback.
package api

// Package httpclient builds the HTTP client used to talk to device agents.
//
// Clients created by New share these behaviors:
//   - Requests are logged with sanitized URLs at debug level, and at warn
//     level for failures and 4xx/5xx responses
//   - The User-Agent header is set when the caller left it empty
//   - The W3C trace context of the request context is propagated
//   - Transient failures are retried with exponential backoff and jitter,
//     but only for idempotent methods or requests carrying an
//     Idempotency-Key header
//   - TLS 1.2 minimum
//
// # Usage
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Logger = logger
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//
//	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
//	req.Header.Set(httpclient.IdempotencyKeyHeader, key)
//	resp, err := client.Do(req)
package httpclient

// Package payhook delivers payment events to merchant webhook endpoints.
//
// Payhook is a library: import it to get signed webhook delivery with
// bounded exponential-backoff retries, a durable record of every job,
// queue metrics, escalation of permanent failures and manual retry.
//
// Key features:
//   - HMAC-SHA256 signatures over a nonce-bearing, timestamped payload
//   - Event types validated with JSON Schema before a job is queued
//   - Composable store pattern with multiple backends (Postgres, SQLite,
//     MongoDB, Redis, Memory)
//   - Worker pool with lease-based claims, so a job runs on one worker at a time
//   - Prometheus metrics and OpenTelemetry spans per attempt
//   - Alerts for exhausted jobs, with acknowledge and replay
//
// Quick start:
//
//	ph, err := payhook.New(
//	    payhook.WithStore(memory.New()),
//	    payhook.WithMerchants(merchant.NewStatic(merchant.Merchant{
//	        ID: "m_123", Secret: "s3cret", Active: true,
//	    })),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ph.Start(ctx)
//	defer ph.Stop(ctx)
//
//	ph.Enqueue(ctx, "m_123", &event.Payload{
//	    TransactionID:   "tx_1",
//	    TransactionType: "deposit",
//	    Status:          "completed",
//	    Amount:          "100.00",
//	    Asset:           "USDC",
//	    EventType:       event.PaymentCompleted,
//	})
package payhook

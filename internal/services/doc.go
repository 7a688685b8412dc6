// Package services implements dispatchd's application-level logic on top of
// pkg/workerpool and pkg/dispatcher.
//
// # Reporter
//
// Reporter periodically pushes a status payload to a remote collector
// endpoint:
//
//   - Owns a dedicated workerpool.Pool (sized from config.Pool) and, every
//     config.Reporter.ReportInterval, schedules one invocation that builds
//     the payload and submits it as a short synchronous request through the
//     shared Dispatcher.
//   - Authenticates outgoing requests with a JWT bearer token when
//     config.Auth.Enabled is set: the token is read from
//     config.Auth.JWTFilePath if configured, otherwise minted once at
//     construction (HS256) from config.Reporter.JWTSigningKey, and attached
//     as an Authorization header.
//   - Applies cenkalti/backoff/v5 exponential backoff on transport error:
//     ticks are skipped until the backoff interval elapses, and the backoff
//     resets to the configured interval on the next successful report.
//   - Stops via Close, which is idempotent and disposes the reporter's
//     worker pool.
//
// Usage:
//
//	reporter, err := services.NewReporter(cfg.Reporter, cfg.Auth, cfg.Pool.Name, cfg.Pool.Size, disp)
//	defer reporter.Close()
//	err = reporter.Status() // most recent report outcome, nil on success
package services

/*
Package log provides structured logging for Burrow using zerolog.

Init configures the global Logger once at startup, choosing between JSON and
console output. Packages derive child loggers with WithComponent,
WithNodeID and WithRequestID so every line carries the context needed to
correlate a command across coordinator and agent logs.

	log.Init(log.Config{Level: log.ParseLevel("debug"), JSONOutput: true})
	logger := log.WithNodeID(log.WithComponent("agent"), 1)
	logger.Info().Msg("Registered")

Credentials are never logged in full; see security.Mask.
*/
package log

// Package logging provides structured logging for the perimeter core.
//
// It is a thin wrapper over log/slog. Every entry carries a service
// and version field so aggregated logs from several core instances
// stay attributable.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	log := logging.New(cfg.Logging, "1.0.0")
//	log.Info("listener bound", "port", 9999)
//	log.Error("registry unreachable", "error", err)
//
// Components take a child logger tagged with their name:
//
//	busLog := log.With("component", "event_bus")
//
// Never log the shared device password or registry credentials.
package logging

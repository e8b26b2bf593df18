// Package logging provides structured logging for Sentinel Core.
//
// It wraps log/slog and stamps every record with service and version
// fields. Components receive a child logger carrying a component field:
//
//	logger := logging.New(cfg.Logging, version)
//	st.SetLogger(logger.Component("store"))
//
// Logging is configured via the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log MQTT passwords or InfluxDB tokens.
package logging

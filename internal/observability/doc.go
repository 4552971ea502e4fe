// Package observability provides structured logging for the TLS layer.
//
// Loggers wrap zap and share an atomic level with every child created
// through With, so a level change applied at runtime reaches all of them:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("TLS listener bound",
//	    observability.String("address", addr),
//	)
//
// Prometheus exposition lives in the metrics subpackage.
package observability

/*
Package httpserver exposes a storage.Storage over HTTP.

The server serves the object API declared in package api, liveness and
readiness endpoints with drain support, and optionally pprof. Request logging
goes through httplogger; provider metrics are served on a separate metrics
listener.

# Example

	s, _ := config.Build(cfg, factory, logger)
	handler := httpserver.NewHandler(s, logger, 0)
	srv, _ := httpserver.New(serverCfg, handler, nil)
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver

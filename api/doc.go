/*
Package api defines the wire contract of the tiered storage HTTP API.

The server is implemented in package httpserver and a Go client in
api/clients. Both share the routes, headers and response types declared here.

# Routes

	GET    /api/objects/{key}          value bytes, 404 when no provider holds key
	HEAD   /api/objects/{key}          200 when key exists, 404 otherwise
	PUT    /api/objects/{key}?ttl=30s  204 when every eligible provider stored the
	                                   value, 409 otherwise
	DELETE /api/objects/{key}          {"deleted": true|false}
	GET    /api/info/{key}             InfoResponse JSON

Keys may contain '/'; each segment is path-escaped. Reads go through the
storage fill logic, so a GET can populate faster tiers.

# Health

	GET /livez    liveness
	GET /readyz   readiness, 503 while draining
	GET /drain    mark the server not ready
	GET /undrain  mark the server ready again
*/
package api

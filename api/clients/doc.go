/*
Package clients provides a Go client for the tiered storage object API.

ObjectClient speaks the routes declared in package api and maps HTTP status
codes back onto the storage error taxonomy: 404 becomes interfaces.ErrNotFound,
409 on PUT becomes a (false, nil) result.

# Usage

	client := &clients.ObjectClient{ServerAddr: "http://127.0.0.1:8080"}
	stored, err := client.Set(ctx, "reports/2024.csv", f, time.Hour)
	data, err := client.Get(ctx, "reports/2024.csv")

MockObjectProvider is a testify mock of api.ObjectProvider for code that
depends on the client.
*/
package clients

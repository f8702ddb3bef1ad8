// Package gateway is the outbound HTTP path to the remote product API.
//
// Every request resolves its path against a fixed base URL, runs under a
// fixed timeout, and carries the credential client's current token as a
// bearer header when one exists. Failures come back as one of two types so
// callers can tell them apart:
//
//	var product Product
//	err := gw.Post(ctx, "/productos", input, &product)
//	if apiErr, ok := gateway.AsAPIError(err); ok {
//	    // the API answered; apiErr.Status and apiErr.Payload say why
//	} else if gateway.IsTransportError(err) {
//	    // no answer at all
//	}
//
// The gateway never retries.
package gateway

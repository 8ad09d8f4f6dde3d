/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

/*
Package crpt provides a client for the document creation API of the CRPT marking system.

Client POSTs a JSON-serialized Document with a caller-supplied Signature header.
Submissions are governed by a Limiter: each Submit call acquires one permit before the
HTTP exchange and releases it before returning, whatever the outcome is.

	cfg := crpt.NewDefaultConfig(ratelimit.PeriodOf(ratelimit.TimeUnitSecond), 5)
	client, err := crpt.NewClientFromConfig(cfg, crpt.ClientOpts{Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Submit(ctx, &doc, signature)
	var rejection *crpt.RemoteRejectionError
	if errors.As(err, &rejection) {
		// The remote API responded with a non-2xx status code.
	}
*/
package crpt

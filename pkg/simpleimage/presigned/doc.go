// Package presigned provides HMAC-signed, time-limited download URLs for
// object stores that cannot sign URLs themselves.
//
// A signed URL has the form
//
//	{base}/objects/{container}/{key}?expires={unix}&signature={hex}
//
// where the signature is HMAC-SHA256 over "METHOD|PATH|EXPIRES" with the
// unescaped path.
//
// # Usage
//
//	signer := presigned.New(
//	    presigned.WithSecretKey(secret),
//	    presigned.WithBaseURL("https://images.example.com"),
//	)
//	url, err := signer.SignURL(http.MethodGet, "images", "uploads/a.png", 15*time.Minute)
//
//	r.With(presigned.ValidateMiddleware(signer)).Get("/objects/*", func(w http.ResponseWriter, r *http.Request) {
//	    container, key := presigned.ObjectFromContext(r.Context())
//	    // stream the object
//	})
package presigned

// Package clientip resolves the originating address of an HTTP request.
//
// Behind a reverse proxy the socket peer is the proxy, so Resolver consults
// a configured list of forwarding headers first. Only list headers your
// proxy overwrites: clients can set any header they like.
//
//	r := clientip.New(clientip.Config{TrustedHeaders: []string{"X-Forwarded-For"}})
//	router.Use(r.Middleware)
//	ip := clientip.FromContext(req.Context())
package clientip

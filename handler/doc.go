// Package handler turns typed request handlers into http.HandlerFunc.
//
// A HandlerFunc receives a Context (the request context plus the raw
// request and writer) and a request value populated by binders, and
// returns a Response:
//
//	type markReadRequest struct {
//		IDs []string `json:"ids"`
//	}
//
//	r.Post("/read", handler.Wrap(func(ctx handler.Context, req markReadRequest) handler.Response {
//		res, err := svc.MarkRead(ctx, userID, req.IDs)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}, handler.WithBinders[markReadRequest](binder.JSON())))
//
// Binding and rendering errors go to the ErrorHandler, which by default
// writes the JSON error envelope. HTTPError values map to their status
// code; anything else is a 500.
package handler

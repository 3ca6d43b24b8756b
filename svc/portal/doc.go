// Package portal assembles the HTTP surface of the notification core.
//
//	GET  /healthz                                 readiness of postgres and redis
//	GET  /ws                                      realtime WebSocket (first-frame auth)
//	GET  /api/notifications                       list, ?limit=&offset=&unread=
//	GET  /api/notifications/unread-count
//	POST /api/notifications/read                  {"ids":[...]}
//	POST /api/notifications/read-all
//	POST /api/clients/{clientID}/assignment       {"recipientUserId","priority"}
//	POST /api/audits/{auditID}/assignment         {"recipientUserId","priority"}
//	POST /api/audits/{auditID}/updates            {"changeType","previousValue","newValue","recipientUserIds","priority"}
//	GET  /api/realtime/stats
//
// Every /api route requires a bearer token; the token subject is the acting
// user. Authorization beyond identity belongs to the pages that call these
// routes.
package portal

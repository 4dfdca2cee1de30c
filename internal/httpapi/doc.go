// Package httpapi exposes the mesh services over HTTP: the authentication
// API, the permission administration API with its client-credentials token
// endpoint, and the session API used by remote binders.
//
// Every router shares one middleware chain (real IP, request id, request
// log, panic recovery, per-IP limiting) and answers with a JSON envelope:
//
//	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
package httpapi

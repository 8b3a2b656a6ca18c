// Package handler implements the HTTP API for mpifleet.
//
// # Endpoints
//
//	GET  /api/machines               all machines, ordered by address
//	GET  /api/machines/{id}          one machine
//	POST /api/machines/{id}/install  start an install (202)
//	POST /api/machines/{id}/reset    return an errored or installed machine to pending
//	POST /api/scan                   start a scan (202), body {"base": "...", "count": N}
//	GET  /api/progress               scan and install progress
//
// Live updates are served separately by the hub package as Server-Sent Events.
//
// # Errors
//
// Error responses are JSON {error, details}. Requests that do not match the
// machine's current status, and a scan while another is running, are 409;
// unknown machines are 404; malformed ranges or bodies are 400.
package handler

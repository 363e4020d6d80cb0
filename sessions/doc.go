// Package sessions tracks live client connections. A Session is created by
// the transport when a stream is accepted and carries everything request
// handling needs later: the permission scope derived from the connection URL,
// the query snapshot of the opening request, and the writer used to push
// server-sent events back to the client.
//
// The Registry maps session IDs to sessions for the whole process. Lookups
// by unknown ID and repeated removals are normal conditions; the transport's
// liveness probe and close path both call Remove without coordinating.
package sessions

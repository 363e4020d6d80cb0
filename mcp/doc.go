// Package mcp contains protocol data types and constants shared across the
// transport and server packages. It mirrors the wire representation of the
// Model Context Protocol while keeping the surface Go-friendly (exported
// structs with json tags, string constants for method names).
//
// The package is intentionally free of transport logic: the HTTP streaming
// transport imports these types but implements its own framing and session
// handling. Likewise the request router constructs responses using these
// concrete types and hands them off for JSON-RPC serialization.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// and ensures a single point of truth if the protocol evolves.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes to keep the core
// list types clean while offering forward-compatible metadata via
// BaseMetadata.
package mcp

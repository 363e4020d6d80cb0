// Package mcpservice holds the capability registries the server dispatches
// against: tools, resources and prompts. Each container is a threadsafe,
// insertion-ordered set of registrations. Registration names may carry a
// group hierarchy (`calc/add`); the group scopes visibility per connection
// while the published identifier is flattened to a single opaque name.
//
// Containers embed a ChangeNotifier so transports can forward list_changed
// notifications when the registered set changes at runtime.
package mcpservice

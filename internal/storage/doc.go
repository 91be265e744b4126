// Package storage persists the agent's interval settings and an audit trail
// of operator commands. Backends: memory, a JSON file pair, or SQLite.
package storage

// Package store defines the [Store] interface for the route to bucket hash
// cache and provides its implementations:
//
//   - [MemoryStore]: in-process map, lost on restart.
//   - [SQLiteStore]: persistent cache backed by a SQLite database.
//   - [TieredStore]: a MemoryStore in front of any persistent Store.
//
// A Redis backend shared by several processes lives in the redis
// subpackage. Custom backends can be created by implementing [Store].
package store

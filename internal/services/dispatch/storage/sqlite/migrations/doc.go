// Package migrations embeds the SQL migrations of the dispatch SQLite store.
package migrations

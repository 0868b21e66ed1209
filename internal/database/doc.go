// Package database provides the connection pool for quote history
// storage. A single PostgreSQL pool holds the quotes table the recorder
// appends to; nothing else in the service touches the database.
package database

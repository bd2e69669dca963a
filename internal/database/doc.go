// Package database builds pgx connection pools for the transition journal.
package database

package common

// DatabaseID is database object id.
// the multixact truncation record carries the id of the database whose
// horizon is the oldest one, so replay can report it.
type DatabaseID uint32

// InvalidDatabaseID is invalid database id
const InvalidDatabaseID DatabaseID = 0

// Package card defines the application card record persisted by the store.
//
// A Card is created once by the repository, mutated through shallow patches
// and history appends, and never deleted. Its Number is the 4-digit
// zero-padded form of ID and doubles as the storage key.
//
// Enumerations (City, Status, Decision, Source, EntryType) are string types
// whose wire values match the JSON documents on disk. Every enumeration has a
// Valid method; the structural contract itself lives in package schema.
package card

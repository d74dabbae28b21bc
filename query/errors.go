package query

import "fmt"

// DuplicateAliasError names an alias bound more than once in a single
// query's from/join list (spec §7 "Query construction" error kind).
type DuplicateAliasError struct {
	Alias string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("query: duplicate alias %q", e.Alias)
}

// UnknownCollectionError names a Source whose Collection isn't registered.
type UnknownCollectionError struct {
	Alias, Collection string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("query: alias %q references unknown collection %q", e.Alias, e.Collection)
}

// Package store abstracts the shared key-value state backing the reserve
// snapshot, the monthly API budgets and the skip counters. State lives in an
// external atomic store rather than process globals so multiple agent
// instances stay consistent.
package store

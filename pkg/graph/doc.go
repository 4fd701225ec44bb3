// Package graph validates workflow definition DAGs.
//
// Validation is pure: it never touches storage and returns the same error for the same input.
// A node/edge set is accepted only when task codes are non-zero and unique, every edge endpoint
// names a task of the same set, every condition edge carries a well-formed predicate payload,
// task parameters match the schema of their type, and the edges form no cycle.
package graph

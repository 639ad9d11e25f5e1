// Package treestore provides a client for a remote hierarchical JSON store
// addressed by slash-delimited paths (Firebase Realtime Database style REST:
// GET/PUT/POST/DELETE on "<base>/<path>.json").
//
// The Client exposes the four store primitives, Get, Put, Post and Delete,
// over a pluggable Backend. The HTTP backend talks to a real store; the mock
// package offers an in-memory tree with the same semantics for tests and
// local development. Every remote call is bounded by a timeout and failures
// are reported as *Error values carrying a Kind, so callers can tell a
// timeout from an unreachable store and, in the higher-level packages, a
// clean failure from a partially applied one.
package treestore

// Package vaulttest provides in-memory fakes of the persistence and cloud
// surfaces for service-level tests.
//
// FakeStore implements store.Store over maps; FakeKMS and FakeIdentity
// implement the cloud client interfaces with per-operation call counters so
// tests can assert how many external calls a code path made.
package vaulttest

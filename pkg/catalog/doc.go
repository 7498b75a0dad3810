// Package catalog defines the boundary between the manifest engine and a
// catalog engine that compiles and applies resources on a host.
//
// The manifest engine flattens its resource graph into a Bucket of Resource
// descriptors and hands it to an Engine. The Engine compiles the bucket into a
// Catalog, whose Apply method converges the host. Dependency edges travel as
// ordinary parameters (require, before, subscribe, notify) whose values use the
// Type[name] reference syntax understood by ParseReferences.
//
// Implementations live elsewhere; see pkg/engine for the local engine.
package catalog

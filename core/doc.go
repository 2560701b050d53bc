// Package core contains the relay domain: channel bindings and their health
// state, the inbound event union, the delivery pipeline and the snapshot job
// contracts. Storage, transport and snapshot adapters depend on this package;
// core must not depend on them.
package core

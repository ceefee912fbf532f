// Package gateway defines the identity provider capability surface:
// the domain model (User, Session), the Gateway interface consumed by
// the auth orchestrator, and the domain-level error taxonomy.
//
// Concrete adapters live in subpackages (see gotrue). The orchestrator
// depends only on this package, never on a provider SDK, so tests can
// substitute a fake gateway.
package gateway

package cmd

import "firestige.xyz/otus/internal/topology/builder"

// registerPlugins wires concrete source/transform/sink/enrichment-table
// factories into reg. Concrete plugin implementations are out of scope
// for this module (spec.md §1 Non-goals); a deployment embeds this
// binary's builder.Registry and registers its own factories here.
func registerPlugins(reg *builder.Registry) {
}

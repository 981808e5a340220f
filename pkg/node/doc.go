/*
Package node wires every other package in this module into one running
process: it owns bootstrap ordering (identity, then storage, then
consensus, then query), and it is the admin surface a gateway or CLI
would call (cluster_status, node_info, list_collections,
drop_collection).

# Bootstrap order

Identity loads first since every signed message and at-rest encryption key
depends on it. Storage opens next, giving consensus and query somewhere to
apply to. Consensus and query are mutually referential — consensus needs
an Applier, query needs a consensus.Service to propose through — so
applierHandle defers that one edge until both sides exist; nothing
proposes before New returns, so the indirection never outlives bootstrap.
Peer transport, replication, reconciliation, and placement are built last
because each depends on consensus or query already being wired.

# Admin surface

ClusterStatus, NodeInfo, ListCollections, DropCollection, and Stats in
admin.go are what a gateway or CLI calls; Node also implements
metrics.ClusterView directly so the same object doubles as the Prometheus
collector's view of the cluster without a separate adapter.
*/
package node

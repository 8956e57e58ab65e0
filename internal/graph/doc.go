// Package graph implements the in-memory object graph: entity types,
// entities, and the relationship proxies that keep both sides of every
// relationship consistent.
//
// RELATIONSHIPS:
//
// A RelationshipDescriptor installed with Graph.Relate gives every entity of
// the forward type a proxy on Name and every entity of the reverse type a
// proxy on ReverseName. SingleProxy backs single-valued sides, ManyProxy
// multi-valued ones; the three kinds are pairings of the two:
//
//	OneToOne    single <-> single
//	OneToMany   single <-> many   (Car.owner <-> Person.cars)
//	ManyToMany  many   <-> many
//
// Setting one side updates the other. When the other side is only known by
// identifier (a fault) the update is recorded against its stored
// representation instead.
//
// CHANGE TRACKING:
//
// Every attribute and relationship mutation is registered with the graph's
// changes.Ledger as a Set, Splice or Delete record, unless the mutation is
// made with WithoutNotifications. Graph.Save hands the ledger to the merge
// queue. Loading from the store never records.
//
// Thread-safety: the graph is single-writer. All mutation, Load and
// CreateOrUpdate happen on one goroutine; only Save's completion runs on the
// merge worker.
package graph

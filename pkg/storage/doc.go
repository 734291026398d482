/*
Package storage persists node records for the coordinator.

BoltStore keeps two buckets in a single bbolt file, <data_dir>/burrow.db:

	nodes   node id (big-endian uint64) -> JSON node record
	tokens  token                       -> node id

The token index makes registration a single lookup and enforces token
uniqueness. UpdateNode and UpdateNodeByToken run read-modify-write inside
one transaction, so concurrent heartbeats for the same node never lose an
update.
*/
package storage

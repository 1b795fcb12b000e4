// Package redis provides the Redis client and the TTL-bounded current
// location cache.
//
// Key schema:
//
//	location:current:{type}:{entityId}  — serialized LocationUpdate, TTL 300s
//
// Entries are refreshed on every write and deleted by the store on expiry;
// there is no background sweep.
package redis

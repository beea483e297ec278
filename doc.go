// Package tiercache implements a tiered cache over a fixed hierarchy of
// storage backends. Reads walk the hierarchy fastest tier first and promote
// hits into the tiers above the one that served them; writes go through to
// every tier. Each backend is probed once with a functional round-trip, and
// only survivors join the hierarchy.
//
// Components:
//   - tier.Tier: uniform storage contract; built-ins cover process memory
//     (Ristretto, BigCache), SysV shared memory, mmap files, plain files,
//     a compiled-code-cache mirror, Redis and memcached.
//   - Codec[V]: (de)serializes V <-> []byte. Msgpack by default; JSON,
//     CBOR, protobuf and raw variants under codec/.
//   - Collaborators: caller-constructed tiers (SQLite, Postgres under
//     tier/) attached via Options.Extra, ranked after the built-ins.
//
// Priority order, fastest first:
//
//	opcode_cache > shared_memory > local_process > local_process_alt >
//	memory_mapped > network_kv > network_cluster > filesystem > extras
//
// Read-through pattern:
//
//	v, ok, _ := cache.Get(ctx, k) // walks tiers, promotes the hit upward
//	if !ok {
//		v, _ = cache.GetOrSet(ctx, k, 0, fillFromDB) // single flight per key
//	}
package tiercache

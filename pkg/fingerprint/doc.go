/*
The fingerprint package remembers what SyncOtter has already copied.

Each file that's successfully transferred is recorded with the size and
modification time it had in the source tree. On the next run, a file whose
size and modification time still match its entry is skipped without reading
its contents. Stricter checks can additionally store a quick hash of the
file's first bytes, which catches rewrites that preserve both the size and the
modification time.

Entries are keyed by canonical absolute path, so unrelated source trees never
share state. The store is bounded: once it grows past its limit, the entries
that were used least recently are evicted. An evicted file is simply copied
again on its next sync, so losing entries is always safe.
*/
package fingerprint

/*
Package artifact implements the content-addressed blob cache and the
chunked transfer codec used on the worker channel.

Artifacts are immutable: the ID is the SHA-256 of the uncompressed
bytes, so a cached artifact at ID x always holds bytes hashing to x.
Transfers ship ordered chunks, optionally gzip-compressed, and the
receiving side verifies both sequence and hash before admitting the blob
into its cache.
*/
package artifact

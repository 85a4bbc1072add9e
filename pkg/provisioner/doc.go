/*
Package provisioner brings worker instances up and down.

Each pool type maps to one backend: docker runs workers as containers,
kubernetes as pods, local as child processes, and vm/bare_metal pools
use a static backend whose workers arrive by registering themselves.
Every backend injects the same agent environment so a worker always
knows its identity, pool and server address.
*/
package provisioner

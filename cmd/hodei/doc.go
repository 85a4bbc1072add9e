// Command hodei is the single binary for the job orchestrator: it runs
// the control plane server, the worker agent and the management CLI.
package main

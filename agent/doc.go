// Package agent owns the device agent lifecycle: startup sequencing,
// the steady-state dispatch loop, and the bounded work queue.
//
// An Agent talks to its collaborators (storage, time sync, claiming,
// transport) through the port interfaces in ports.go; concrete adapters
// live under infra/ and internal/.
package agent

// Package engine wires all Skein subsystems together. It creates the
// extension registry, program registry, interpreter, checkpoint
// manager, scheduler, and transport, and provides the typed operations
// an embedding host uses: register functions, start scripts, deliver
// completions, cancel, and recover.
//
// This package exists to break the import cycle: the root skein
// package defines Entity and the sentinel errors (imported by frame,
// instance, checkpoint, etc.) and so cannot import those packages
// back. The engine package sits above all subsystem packages and below
// the application layer.
package engine

// File: internal/pipeline/doc.go
// Brief: Stage graph model, region matrix and fragment assembly.

// Package pipeline implements the core of pipectl: it resolves which
// environments apply to which region, and merges independently rendered,
// locally numbered stage fragments into one globally numbered pipeline whose
// dependency relation is acyclic by construction.
package pipeline

// Package registry manages the provider/model candidate registry: the
// static capability and pricing descriptors the router selects from.
//
// Candidates are loaded from a YAML file, validated as a whole, and held
// in an atomically swapped generation so routing reads never block behind
// a reload. An optional fsnotify watcher reloads the file on change with
// debouncing; a failed reload keeps the previous generation active.
package registry

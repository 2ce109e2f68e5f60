// Package proctree locates worker processes inside a launched process tree and
// terminates trees with a graceful-then-forceful escalation.
//
// Tree inspection is best effort. Processes vanish between enumeration and
// signalling, and permission checks can hide part of the tree, so every
// operation in this package treats "process no longer exists" as success and
// reports other surprises through a diagnostic callback instead of failing.
// When inspection is unavailable entirely the terminator falls back to a
// single forceful platform-native kill (a process-group signal on POSIX, a
// tree kill on Windows).
package proctree

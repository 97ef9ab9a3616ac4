// Package pvm is a process virtual machine: it runs process
// definitions (graphs of activities and transitions) as trees of
// persisted executions.
//
// The interpreter is in package 'core', the standard activity kinds
// are in 'behaviors', commands and their interceptors are in
// 'command', and timers and async continuations run from 'jobs'.
// Package 'engine' ties these together.  Command-line tools are in
// `cmd`.
package pvm

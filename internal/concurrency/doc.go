// Package concurrency
// Author: momentics <momentics@gmail.com>
//
// OS-thread helpers for instance owners. Engine callbacks arrive on threads the
// owner does not control; these helpers expose thread identity for diagnostics
// and let an owner run on a dedicated, locked OS thread.
package concurrency

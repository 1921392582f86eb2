/*
Package valtron implements a cooperative task execution engine built
around state-yielding iterators rather than futures.

A Task is any type implementing TaskIterator: each call to Next returns
the task's next status (Init, Pending, Delayed, Spawn or Ready) until it
reports it is finished. Nothing in valtron ever calls an async runtime
or requires a task to "await" - a task suspends purely by returning
from Next.

Two executors drive tasks:

  - Single, a single-threaded scheduler usable even in environments
    without OS threads (the ProcessController abstraction is a no-op
    there).
  - Multi, a work-stealing pool of Single-style workers for
    multi-threaded use.

Both expose the same Engine interface (Lift/Schedule/Broadcast) so a
running task can spawn further tasks without caring which executor it
runs under.
*/
package valtron

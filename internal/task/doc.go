// Package task is the distributed task queue of the kit.
//
// An App registers named handlers and publishes messages through a Broker
// (in process or redis). Workers consume the messages of their queues, run
// the handlers with a fresh database session scope and record every state
// change in a result Backend (memory, SQL, redis or badger). Periodic tasks
// are published by a Scheduler, usually embedded in one worker.
package task

// Package seats is the seat-allocation domain used to compare a lock-based
// service with one built on the bus.
//
// A venue has 2600 seats, rows a to z with 100 seats each. LockedService
// keeps the inventory behind a mutex. Allocator keeps its own inventory and
// serves AllocateSeats, GetSeatsForOrder and CancelOrder messages from the
// pump; MessagingService turns those exchanges back into plain method calls
// through a bridge.TaskBridge. Workload drives either one with concurrent
// customers.
package seats

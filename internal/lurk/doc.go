// Package lurk defines the domain model shared by the stock checkers, the
// scheduler, the notification sinks, and the run history stores.
package lurk

// Package irq routes interrupt lines to handlers.
//
// A [Router] stands in for the platform interrupt controller. Each line has
// at most one handler, and deliveries on one line never overlap. Once
// [Router.Detach] returns, the handler will not be entered again for the
// detached lines.
package irq

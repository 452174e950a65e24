// Package dma provides an arena-backed [hal.DMAAllocator].
//
// On unix platforms the arena is an anonymous mapping outside the Go heap.
// Each arena is presented at a bus address chosen by the caller, and
// [Arena.Translate] maps bus addresses back to memory for emulated bus
// masters such as the "sim" controller family or register-level test
// fixtures.
package dma

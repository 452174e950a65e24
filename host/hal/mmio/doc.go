// Package mmio provides [hal.IO] implementations over byte-addressed memory.
//
// [Map] maps a physical register window from /dev/mem (or any mappable
// file, such as a UIO resource) with mmap. [Block] is a heap-backed register
// file for tests and emulated controllers. Both access registers as aligned
// 32-bit little-endian words with atomic loads and stores, so the compiler
// never elides or tears a register access.
package mmio

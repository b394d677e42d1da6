// Package workerpool bounds how many backend computations run at once.
//
// CPU work takes one of the CPU slots. Work that prefers a GPU takes a GPU
// slot when the pool has any, otherwise it runs on a CPU slot.
package workerpool

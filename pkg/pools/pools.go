// Package pools provides object pooling for the container factory.
//
// Unlike sync.Pool, a ShellPool never hands objects to the garbage
// collector: shells are expensive to build and must be ready inside a
// tight per-tick budget, so the pool keeps an explicit stock and reports
// when it drops below its low-water mark.
//
//   - ShellPool: stock of pre-built, inactive objects of one kind
//   - Refill: top-up policy (low-water mark, normal top-up, burst top-up),
//     bounded by a per-pool target stock
package pools

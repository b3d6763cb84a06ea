// Package gvl models a host interpreter that serializes all of its work
// behind one global lock, and provides the executors native code uses to
// step outside that lock while it waits on I/O.
//
// A host is anything implementing [Host]. The in-process implementation is
// [Interpreter]: each interpreter thread is a goroutine that must hold the
// interpreter lock while it touches interpreter state.
//
//	in := gvl.New()
//	th := in.Go(func(t *gvl.Thread) error {
//		n := gvl.NoGVLCancellable(t, func(sig *gvl.Signal) int {
//			select {
//			case <-sig.Done():
//				return -1
//			case v := <-results:
//				return v
//			}
//		})
//		_ = n
//		return nil
//	})
//	th.Interrupt() // from any goroutine
//	err := th.Wait()
//
// [NoGVL] releases the lock around a closure. [NoGVLCancellable] does the same
// and hands the closure a [Signal] which the host cancels when the thread is
// interrupted. Both reacquire the lock before returning.
package gvl

package jsvm

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/dop251/goja"
)

const minInterval = time.Millisecond

type timer struct {
	id       int64
	due      time.Time
	interval time.Duration
	repeat   bool
	fn       goja.Callable
	args     []goja.Value
	index    int
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// eventLoop runs timer callbacks on the goroutine that owns the runtime.
// It is not safe for concurrent use.
type eventLoop struct {
	vm     *goja.Runtime
	nextID int64
	timers map[int64]*timer
	queue  timerQueue
	ran    int
}

func newEventLoop(vm *goja.Runtime) *eventLoop {
	return &eventLoop{
		vm:     vm,
		timers: make(map[int64]*timer),
	}
}

func (l *eventLoop) install() error {
	bindings := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    l.jsSchedule(false),
		"setInterval":   l.jsSchedule(true),
		"clearTimeout":  l.jsClear,
		"clearInterval": l.jsClear,
	}
	for name, fn := range bindings {
		if err := l.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (l *eventLoop) jsSchedule(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(l.vm.NewTypeError("callback must be a function"))
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		id := l.schedule(fn, delayArg(call.Argument(1)), repeat, args)
		return l.vm.ToValue(id)
	}
}

func (l *eventLoop) jsClear(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return goja.Undefined()
	}
	l.clear(arg.ToInteger())
	return goja.Undefined()
}

func delayArg(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || ms < 0 {
		return 0
	}
	if ms > float64(math.MaxInt32) {
		ms = float64(math.MaxInt32)
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (l *eventLoop) schedule(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if repeat && delay < minInterval {
		delay = minInterval
	}
	l.nextID++
	t := &timer{
		id:       l.nextID,
		due:      time.Now().Add(delay),
		interval: delay,
		repeat:   repeat,
		fn:       fn,
		args:     args,
	}
	l.timers[t.id] = t
	heap.Push(&l.queue, t)
	return t.id
}

func (l *eventLoop) clear(id int64) {
	t, ok := l.timers[id]
	if !ok {
		return
	}
	delete(l.timers, id)
	if t.index >= 0 {
		heap.Remove(&l.queue, t.index)
	}
}

// pending reports the number of scheduled timers.
func (l *eventLoop) pending() int {
	return l.queue.Len()
}

// discard cancels every pending timer and reports how many there were.
func (l *eventLoop) discard() int {
	n := l.queue.Len()
	l.queue = nil
	clear(l.timers)
	return n
}

// drain runs timers in due order until none remain or ctx is done.
func (l *eventLoop) drain(ctx context.Context) error {
	for l.queue.Len() > 0 {
		next := l.queue[0]
		if wait := time.Until(next.due); wait > 0 {
			wake := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				wake.Stop()
				return ctx.Err()
			case <-wake.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		heap.Pop(&l.queue)
		if next.repeat {
			next.due = time.Now().Add(next.interval)
			heap.Push(&l.queue, next)
		} else {
			delete(l.timers, next.id)
		}

		l.ran++
		if _, err := next.fn(goja.Undefined(), next.args...); err != nil {
			return err
		}
	}
	return nil
}

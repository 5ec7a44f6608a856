package lttng

// Event is one entry of a kernel event catalog.
type Event struct {
	// Name is the tracepoint name. For the syscall entry it is only a label.
	Name string
	// Syscall enables every system call instead of a single tracepoint.
	Syscall bool
}

func (e Event) String() string {
	if e.Syscall {
		return "syscalls (all)"
	}
	return e.Name
}

// KernelCatalog is the ordered set of kernel events enabled for every traced
// run: scheduler, memory, block I/O, all syscalls, network and interrupts.
var KernelCatalog = []Event{
	{Name: "sched_switch"},
	{Name: "sched_process_exec"},
	{Name: "sched_process_exit"},
	{Name: "kmem_mm_page_alloc"},
	{Name: "kmem_mm_page_free"},
	{Name: "kmem_cache_alloc"},
	{Name: "kmem_cache_free"},
	{Name: "block_rq_issue"},
	{Name: "block_rq_complete"},
	{Name: "syscalls", Syscall: true},
	{Name: "net_dev_queue"},
	{Name: "net_dev_xmit"},
	{Name: "irq_entry"},
	{Name: "irq_exit"},
}

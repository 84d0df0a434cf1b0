package thread

import (
	"testing"

	"github.com/gerben-stavenga/RetroOS/defs"
)

func freshScheduler() *Scheduler {
	s := &Scheduler{lcgState: seedDefault, Current: 0}
	s.table[0].State = Running
	s.table[0].Tid = 0
	return s
}

func TestCreateThreadInheritsPidUnlessProcess(t *testing.T) {
	s := freshScheduler()
	parent := &s.table[0]
	parent.Pid = 7

	childTid := s.CreateThread(parent, 0, nil, false)
	if childTid == -1 {
		t.Fatal("CreateThread failed on an empty table")
	}
	child := s.Get(childTid)
	if child.Pid != 7 {
		t.Fatalf("thread child.Pid = %d, want inherited 7", child.Pid)
	}
	if child.State != Ready {
		t.Fatalf("new thread state = %v, want Ready", child.State)
	}
	if child.ParentTid != 0 {
		t.Fatalf("child.ParentTid = %d, want 0", child.ParentTid)
	}

	procTid := s.CreateThread(parent, 0, nil, true)
	proc := s.Get(procTid)
	if proc.Pid != defs.Pid_t(procTid) {
		t.Fatalf("process.Pid = %d, want own tid %d", proc.Pid, procTid)
	}
}

func TestCreateThreadFillsFDTable(t *testing.T) {
	s := freshScheduler()
	tid := s.CreateThread(&s.table[0], 0, nil, true)
	if _, ok := s.Get(tid).Fds.Get(1); !ok {
		t.Fatal("new thread's fd 1 (stdout) not populated")
	}
}

func TestCreateThreadExhaustion(t *testing.T) {
	s := freshScheduler()
	parent := &s.table[0]
	n := 0
	for {
		if s.CreateThread(parent, 0, nil, false) == -1 {
			break
		}
		n++
	}
	if n != MaxThreads-1 {
		t.Fatalf("created %d threads, want %d", n, MaxThreads-1)
	}
}

func TestPickReadyExcludesSelfAndIdle(t *testing.T) {
	s := freshScheduler()
	parent := &s.table[0]
	a := s.CreateThread(parent, 0, nil, false)
	b := s.CreateThread(parent, 0, nil, false)

	for i := 0; i < 200; i++ {
		got := s.pickReady(a)
		if got == -1 {
			t.Fatal("pickReady found nothing with a Ready candidate present")
		}
		if got == a || got == 0 {
			t.Fatalf("pickReady returned excluded/idle tid %d", got)
		}
		if got != b {
			t.Fatalf("pickReady = %d, only %d was eligible", got, b)
		}
	}
}

func TestPickReadyNoneWhenAllExcludedOrNotReady(t *testing.T) {
	s := freshScheduler()
	parent := &s.table[0]
	a := s.CreateThread(parent, 0, nil, false)
	s.table[a].State = Blocked

	if got := s.pickReady(-1); got != -1 {
		t.Fatalf("pickReady = %d, want -1 (no Ready candidates)", got)
	}
}

func TestPickReadyUniformOverManyCandidates(t *testing.T) {
	s := freshScheduler()
	parent := &s.table[0]
	const n = 10
	tids := make([]int, n)
	for i := range tids {
		tids[i] = s.CreateThread(parent, 0, nil, false)
	}
	counts := map[int]int{}
	for i := 0; i < 5000; i++ {
		got := s.pickReady(-1)
		counts[got]++
	}
	if len(counts) != n {
		t.Fatalf("reservoir sampling only ever picked %d of %d candidates", len(counts), n)
	}
}

func TestInitProcessThreadSetsUserModeFrame(t *testing.T) {
	var tc TCB
	InitProcessThread(&tc, 0x08048000, 0xBFFFF000)
	if !tc.CPUState.IsUserMode() {
		t.Fatal("init_process_thread frame is not flagged user mode")
	}
	if tc.CPUState.Eip != 0x08048000 {
		t.Fatalf("Eip = %#x, want entry point", tc.CPUState.Eip)
	}
	if tc.CPUState.UserEsp != 0xBFFFF000 {
		t.Fatalf("UserEsp = %#x, want stack", tc.CPUState.UserEsp)
	}
	if tc.CPUState.Eflags&0x200 == 0 {
		t.Fatal("init_process_thread did not set IF in EFLAGS")
	}
	for _, reg := range []uint32{tc.CPUState.Eax, tc.CPUState.Ebx, tc.CPUState.Ecx, tc.CPUState.Edx} {
		if reg != 0 {
			t.Fatal("init_process_thread left a nonzero GPR")
		}
	}
}

func TestSaveStateRoundtrip(t *testing.T) {
	var tc TCB
	tc.Tid = 3
	f := tc.CPUState
	f.Eax = 42
	f.Eip = 0x1000
	SaveState(&tc, &f)
	if tc.CPUState.Eax != 42 || tc.CPUState.Eip != 0x1000 {
		t.Fatal("save_state did not copy the frame verbatim")
	}
}

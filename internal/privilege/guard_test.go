package privilege

import (
	"errors"
	"testing"

	"github.com/plasma-setup/setup-helper/internal/userdb"
)

// fakeIDState tracks the process identity as the mocked syscalls see it.
type fakeIDState struct {
	euid, egid int
	groups     []int
	exitCode   int
	exited     bool
}

func installFakeSyscalls(t *testing.T) *fakeIDState {
	t.Helper()
	st := &fakeIDState{euid: 0, egid: 0, groups: []int{0, 10}}

	origSetgroups, origSetegid, origSeteuid, origExit := setgroupsFunc, setegidFunc, seteuidFunc, exitFunc
	setgroupsFunc = func(g []int) error {
		st.groups = append([]int(nil), g...)
		return nil
	}
	setegidFunc = func(gid int) error {
		st.egid = gid
		return nil
	}
	seteuidFunc = func(uid int) error {
		st.euid = uid
		return nil
	}
	exitFunc = func(code int) {
		st.exited = true
		st.exitCode = code
	}
	t.Cleanup(func() {
		setgroupsFunc, setegidFunc, seteuidFunc, exitFunc = origSetgroups, origSetegid, origSeteuid, origExit
		active.Store(false)
	})
	return st
}

var alice = userdb.Identity{Username: "alice", Home: "/home/alice", UID: 1000, GID: 1001}

func TestDropRestoreRoundTrip(t *testing.T) {
	st := installFakeSyscalls(t)

	guard, err := Drop(alice)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if st.euid != 1000 || st.egid != 1001 {
		t.Errorf("after Drop: euid=%d egid=%d, want 1000/1001", st.euid, st.egid)
	}
	if len(st.groups) != 0 {
		t.Errorf("supplementary groups not cleared: %v", st.groups)
	}

	guard.Restore()
	if st.euid != 0 || st.egid != 0 {
		t.Errorf("after Restore: euid=%d egid=%d, want 0/0", st.euid, st.egid)
	}
	if st.exited {
		t.Error("Restore terminated the process on the success path")
	}
}

func TestRestoreIdempotent(t *testing.T) {
	st := installFakeSyscalls(t)

	guard, err := Drop(alice)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	guard.Restore()
	guard.Restore()
	if st.euid != 0 || st.egid != 0 || st.exited {
		t.Errorf("double Restore left euid=%d egid=%d exited=%v", st.euid, st.egid, st.exited)
	}
}

func TestNestedDropRejected(t *testing.T) {
	installFakeSyscalls(t)

	guard, err := Drop(alice)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	defer guard.Restore()

	if _, err := Drop(alice); err == nil {
		t.Fatal("nested Drop succeeded, want error")
	}
}

func TestDropFailureAbortsCleanly(t *testing.T) {
	st := installFakeSyscalls(t)
	seteuidFunc = func(uid int) error {
		if uid == 0 {
			st.euid = 0
			return nil
		}
		return errors.New("EPERM")
	}

	if _, err := Drop(alice); err == nil {
		t.Fatal("Drop succeeded despite seteuid failure")
	}
	if st.egid != 0 {
		t.Errorf("gid not rolled back after failed uid drop: %d", st.egid)
	}
	// A failed drop must release the scope so the next action can run.
	seteuidFunc = func(uid int) error {
		st.euid = uid
		return nil
	}
	guard, err := Drop(userdb.Identity{Username: "bob", UID: 1002, GID: 1002})
	if err != nil {
		t.Fatalf("Drop after failed drop: %v", err)
	}
	guard.Restore()
}

func TestRestoreFailureTerminates(t *testing.T) {
	st := installFakeSyscalls(t)

	guard, err := Drop(alice)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}

	seteuidFunc = func(uid int) error { return errors.New("EPERM") }
	guard.Restore()

	if !st.exited {
		t.Fatal("Restore did not terminate after failed restoration")
	}
}

func TestWithRestoresOnError(t *testing.T) {
	st := installFakeSyscalls(t)

	wantErr := errors.New("copy failed")
	err := With(alice, func() error {
		if st.euid != 1000 {
			t.Errorf("inside With: euid=%d, want 1000", st.euid)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("With = %v, want %v", err, wantErr)
	}
	if st.euid != 0 || st.egid != 0 {
		t.Errorf("after With with error: euid=%d egid=%d, want 0/0", st.euid, st.egid)
	}
}

func TestWithRestoresOnSuccess(t *testing.T) {
	st := installFakeSyscalls(t)

	if err := With(alice, func() error { return nil }); err != nil {
		t.Fatalf("With: %v", err)
	}
	if st.euid != 0 || st.egid != 0 {
		t.Errorf("after With: euid=%d egid=%d, want 0/0", st.euid, st.egid)
	}
}

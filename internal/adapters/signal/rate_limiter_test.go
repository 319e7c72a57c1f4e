package signal

import "testing"

func TestMapLimiter_BurstThenThrottle(t *testing.T) {
	// 1 event/s with a burst of 3: the first three pass, the fourth is
	// rejected immediately.
	l := NewMapLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("alice") {
			t.Fatalf("event %d within burst should pass", i)
		}
	}
	if l.Allow("alice") {
		t.Error("event beyond burst should be rejected")
	}
}

func TestMapLimiter_UsersAreIndependent(t *testing.T) {
	l := NewMapLimiter(1, 1)

	if !l.Allow("alice") {
		t.Fatal("alice's first event should pass")
	}
	if l.Allow("alice") {
		t.Fatal("alice's second event should be throttled")
	}
	if !l.Allow("bob") {
		t.Error("bob must not inherit alice's bucket")
	}
}

func TestMapLimiter_ForgetResetsBucket(t *testing.T) {
	l := NewMapLimiter(1, 1)

	l.Allow("alice")
	if l.Allow("alice") {
		t.Fatal("expected throttle before forget")
	}
	l.Forget("alice")
	if !l.Allow("alice") {
		t.Error("forget should give a fresh bucket")
	}
}

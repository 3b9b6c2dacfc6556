package finalize

import "testing"

func TestSessionLockKey_StableAndDistinct(t *testing.T) {
	a := sessionLockKey("9f1c8a2e-0000-0000-0000-000000000001")
	b := sessionLockKey("9f1c8a2e-0000-0000-0000-000000000001")
	c := sessionLockKey("9f1c8a2e-0000-0000-0000-000000000002")

	if a != b {
		t.Errorf("lock key not stable for the same session id")
	}
	if a == c {
		t.Errorf("distinct session ids mapped to the same lock key")
	}
	if a == leaderLockKey || c == leaderLockKey {
		t.Errorf("session lock key collided with the leader lock key")
	}
}

package bcryptutil

import "testing"

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !Verify("hunter2", hash) {
		t.Error("Verify should accept the original secret")
	}
	if Verify("hunter3", hash) {
		t.Error("Verify should reject a different secret")
	}
	if Verify("hunter2", "not-a-hash") {
		t.Error("Verify should reject a malformed hash")
	}
}

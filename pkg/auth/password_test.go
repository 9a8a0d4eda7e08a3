package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	digest, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if digest == "s3cret" {
		t.Fatalf("digest must not equal the plain password")
	}
	if !CheckPassword("s3cret", digest) {
		t.Fatalf("correct password should verify")
	}
	if CheckPassword("wrong", digest) {
		t.Fatalf("wrong password should not verify")
	}
}

func TestCheckPasswordRejectsGarbageDigest(t *testing.T) {
	if CheckPassword("anything", "not-a-digest") {
		t.Fatalf("garbage digest should not verify")
	}
}

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func TestStaticVerifier(t *testing.T) {
	t.Parallel()

	v := &Static{Tokens: map[string]Identity{
		"good": {UID: "u1", Email: "a@b.c", EmailVerified: true},
	}}

	id, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatal(err)
	}
	if id.UID != "u1" || !id.EmailVerified {
		t.Errorf("identity = %+v", id)
	}

	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("unknown token: got %v, want ErrTokenMalformed", err)
	}
}

func TestCheckAdminKey(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("hunter2"))
	digest := hex.EncodeToString(sum[:])

	if !CheckAdminKey(digest, "hunter2") {
		t.Error("correct key rejected")
	}
	if CheckAdminKey(digest, "hunter3") {
		t.Error("wrong key accepted")
	}
	if CheckAdminKey("", "hunter2") {
		t.Error("empty digest must disable admin access")
	}
	if CheckAdminKey("zz", "hunter2") {
		t.Error("invalid digest must disable admin access")
	}
	if CheckAdminKey(digest[:32], "hunter2") {
		t.Error("truncated digest must disable admin access")
	}
}

package domain

import "testing"

func TestIdempotencyStatusValid(t *testing.T) {
	for _, status := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !status.Valid() {
			t.Fatalf("status %q must be valid", status)
		}
	}
	if IdempotencyStatus("replayed").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestScopedIdempotencyKey(t *testing.T) {
	tests := []struct {
		name      string
		actorID   string
		clientKey string
		wantActor string
	}{
		{name: "buyer", actorID: "buyer-1", clientKey: "checkout-1", wantActor: "buyer-1"},
		{name: "separators inside ids", actorID: "org:buyer:7", clientKey: "a:b", wantActor: "org:buyer:7"},
		{name: "anonymous", actorID: "", clientKey: "k", wantActor: AnonymousIdempotencyScope},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := IdempotencyRecord{Key: ScopedIdempotencyKey(tc.actorID, tc.clientKey)}
			actor, key, ok := record.Scope()
			if !ok || actor != tc.wantActor || key != tc.clientKey {
				t.Fatalf("Scope() = %q, %q, %v; want %q, %q", actor, key, ok, tc.wantActor, tc.clientKey)
			}
		})
	}

	if ScopedIdempotencyKey("buyer-1", "k") == ScopedIdempotencyKey("buyer-2", "k") {
		t.Fatal("same client key of different actors must not collide")
	}
	if ScopedIdempotencyKey("a:1", "k") == ScopedIdempotencyKey("a", "1:k") {
		t.Fatal("actor length prefix must keep keys apart")
	}
}

func TestParseScopedIdempotencyKey_RejectsForeignKeys(t *testing.T) {
	for _, key := range []string{"", "plain-key", "x:buyer:k", "9:buyer:k", "0::k", "3:abck"} {
		if _, _, ok := ParseScopedIdempotencyKey(key); ok {
			t.Fatalf("key %q must not parse", key)
		}
	}
}

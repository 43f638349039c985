package password

import (
	"strings"
	"testing"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()

	// Small params keep the test suite fast.
	p := Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	h, err := NewHasher(p, p)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashPasswordRoundTrip(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("expected PHC argon2id prefix, got %q", encoded)
	}
	if !h.VerifyPassword("correct horse battery staple", encoded) {
		t.Fatal("expected verification to succeed for correct password")
	}
	if h.VerifyPassword("wrong password", encoded) {
		t.Fatal("expected verification to fail for wrong password")
	}
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	b, err := h.HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same input must differ")
	}
	if !h.VerifyPassword("same input", a) || !h.VerifyPassword("same input", b) {
		t.Fatal("both hashes must verify")
	}
}

func TestVerifyRejectsMalformedEncodings(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.HashPassword("secret-value-1")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	cases := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"garbage", "not-a-phc-string"},
		{"wrong algorithm", strings.Replace(encoded, "argon2id", "argon2i", 1)},
		{"truncated", encoded[:len(encoded)-10]},
		{"bad version", strings.Replace(encoded, "v=19", "v=18", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if h.VerifyPassword("secret-value-1", tc.encoded) {
				t.Fatalf("expected rejection for %s encoding", tc.name)
			}
		})
	}
}

func TestVerifyRejectsMutatedDigest(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.HashPassword("secret-value-2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	// Flip the last digest character to another base64 symbol.
	last := encoded[len(encoded)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	mutated := encoded[:len(encoded)-1] + string(replacement)
	if h.VerifyPassword("secret-value-2", mutated) {
		t.Fatal("expected verification to fail after digest mutation")
	}
}

func TestTokenProfileIndependentOfPasswordProfile(t *testing.T) {
	pw := Params{Memory: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	tok := Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	h, err := NewHasher(pw, tok)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	encoded, err := h.HashToken("opaque-refresh-secret")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	if !strings.Contains(encoded, "m=8192") {
		t.Fatalf("token hash must carry the token profile params, got %q", encoded)
	}
	if !h.VerifyToken("opaque-refresh-secret", encoded) {
		t.Fatal("token round trip failed")
	}
	// Verification reads params from the encoding, so either profile decodes it.
	if !h.VerifyPassword("opaque-refresh-secret", encoded) {
		t.Fatal("verify must honor the params embedded in the encoding")
	}
}

func TestNewHasherRejectsBadParams(t *testing.T) {
	good := Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	cases := []struct {
		name   string
		mutate func(Params) Params
	}{
		{"zero memory", func(p Params) Params { p.Memory = 0; return p }},
		{"zero time cost", func(p Params) Params { p.Time = 0; return p }},
		{"zero parallelism", func(p Params) Params { p.Parallelism = 0; return p }},
		{"short salt", func(p Params) Params { p.SaltLength = 4; return p }},
		{"short key", func(p Params) Params { p.KeyLength = 8; return p }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHasher(tc.mutate(good), good); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestDefaultParams(t *testing.T) {
	pw := DefaultPasswordParams()
	if pw.Memory != 64*1024 || pw.Time != 3 {
		t.Fatalf("unexpected password defaults: %+v", pw)
	}
	tok := DefaultTokenParams()
	if tok.Memory != 16*1024 || tok.Time != 2 {
		t.Fatalf("unexpected token defaults: %+v", tok)
	}
}

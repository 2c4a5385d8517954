package credential

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := New()

	cases := []string{
		"",
		"hunter2",
		"sk-ant-REDACTED",
		"p@ss w0rd!#$%",
	}

	for _, plain := range cases {
		enc := s.Encrypt(plain)
		if plain == "" && enc != "" {
			t.Errorf("Encrypt(%q) = %q, want empty", plain, enc)
		}
		got := s.Decrypt(enc)
		if got != plain {
			t.Errorf("round trip mismatch: Decrypt(Encrypt(%q)) = %q", plain, got)
		}
	}
}

func TestEncryptIsNotPlaintext(t *testing.T) {
	s := New()
	plain := "super-secret-password"
	enc := s.Encrypt(plain)
	if enc == plain {
		t.Fatalf("Encrypt returned plaintext unchanged")
	}
}

func TestDecryptInvalidInputReturnsEmpty(t *testing.T) {
	s := New()
	if got := s.Decrypt("not-valid-base64!!!"); got != "" {
		t.Errorf("Decrypt(invalid) = %q, want empty string", got)
	}
}

func TestDecryptWrongKeyDoesNotPanic(t *testing.T) {
	s1 := New()
	s2 := &Store{key: s1.key}
	s2.key[0] ^= 0xFF

	enc := s1.Encrypt("some value")
	got := s2.Decrypt(enc)
	if got == "some value" {
		t.Errorf("decrypt with wrong key unexpectedly recovered plaintext")
	}
}

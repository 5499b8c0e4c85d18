package vault

import (
	"errors"
	"strings"
	"testing"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(VaultOpts{KeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	cases := []string{
		"",
		"hello",
		`{"bot_token":"xoxb-secret","app_token":"xapp-secret"}`,
		strings.Repeat("long credential blob ", 100),
	}
	for _, plaintext := range cases {
		token, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if !strings.Contains(token, ":") {
			t.Fatalf("token %q missing iv separator", token)
		}
		got, err := v.Decrypt(token)
		if err != nil {
			t.Fatalf("decrypt %q: %v", token, err)
		}
		if got != plaintext {
			t.Errorf("roundtrip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncrypt_UniqueTokens(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected distinct tokens for repeated encryptions (random nonce)")
	}
}

func TestDecrypt_MalformedToken(t *testing.T) {
	v := newTestVault(t)

	cases := []string{
		"",
		"no-separator",
		"zz:zz",
		"abcd:",          // nonce too short
		"abcd:deadbeef",  // nonce too short
		":" + "deadbeef", // empty nonce
	}
	for _, token := range cases {
		if _, err := v.Decrypt(token); !errors.Is(err, ErrDecryptFailure) {
			t.Errorf("decrypt %q: got %v, want ErrDecryptFailure", token, err)
		}
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("secret credentials")
	if err != nil {
		t.Fatal(err)
	}
	// Flip the final hex digit of the ciphertext.
	last := token[len(token)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	tampered := token[:len(token)-1] + string(flip)

	if _, err := v.Decrypt(tampered); !errors.Is(err, ErrDecryptFailure) {
		t.Errorf("tampered decrypt: got %v, want ErrDecryptFailure", err)
	}
}

func TestDecrypt_KeyMismatch(t *testing.T) {
	v := newTestVault(t)
	other, err := New(VaultOpts{}) // generated key
	if err != nil {
		t.Fatal(err)
	}

	token, err := v.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decrypt(token); !errors.Is(err, ErrDecryptFailure) {
		t.Errorf("cross-key decrypt: got %v, want ErrDecryptFailure", err)
	}
}

func TestNew_BadKey(t *testing.T) {
	if _, err := New(VaultOpts{KeyHex: "not-hex"}); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := New(VaultOpts{KeyHex: "abcd"}); err == nil {
		t.Error("expected error for short key")
	}
}

func TestNew_GeneratedKeyRoundTrips(t *testing.T) {
	v, err := New(VaultOpts{})
	if err != nil {
		t.Fatal(err)
	}
	token, err := v.Encrypt("ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.Decrypt(token)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ephemeral" {
		t.Errorf("got %q, want %q", got, "ephemeral")
	}
}

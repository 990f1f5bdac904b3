package crypto

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

// testParams keeps argon2 cheap so the suite stays fast.
var testParams = Params{Memory: 1024, Time: 1, Threads: 1}

// TestHashVerifyRoundTrip tests that a hash verifies against its own plaintext
func TestHashVerifyRoundTrip(t *testing.T) {
	h := NewHasher(testParams)

	for _, pw := range []string{"Passw0rd!", "Zx9!aaaa", "", strings.Repeat("x", 1024)} {
		encoded, err := h.Hash([]byte(pw))
		if err != nil {
			t.Fatalf("Hash(%q) error = %v", pw, err)
		}

		ok, err := h.Verify([]byte(pw), encoded)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if !ok {
			t.Errorf("Verify(%q) = false, want true", pw)
		}
	}
}

// TestVerifyWrongPassword tests that other plaintexts do not verify
func TestVerifyWrongPassword(t *testing.T) {
	h := NewHasher(testParams)
	encoded, err := h.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	for _, wrong := range []string{"passw0rd!", "Passw0rd", "Passw0rd!!", "", "P"} {
		ok, err := h.Verify([]byte(wrong), encoded)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if ok {
			t.Errorf("Verify(%q) = true, want false", wrong)
		}
	}
}

// TestHashIsSalted tests that hashing the same password twice yields different encodings
func TestHashIsSalted(t *testing.T) {
	h := NewHasher(testParams)
	a, err := h.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a == b {
		t.Error("Hash() produced identical output for two calls; salt not applied")
	}
}

// TestEncodedFormat tests the PHC string layout
func TestEncodedFormat(t *testing.T) {
	h := NewHasher(testParams)
	encoded, err := h.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("unexpected encoding prefix: %s", encoded)
	}

	params, salt, key, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if params != testParams {
		t.Errorf("Decode() params = %+v, want %+v", params, testParams)
	}
	if len(salt) != SaltLength {
		t.Errorf("salt length = %d, want %d", len(salt), SaltLength)
	}
	if len(key) != KeyLength {
		t.Errorf("key length = %d, want %d", len(key), KeyLength)
	}
}

// TestVerifyUsesEmbeddedParams tests that a hash made with other params still verifies
func TestVerifyUsesEmbeddedParams(t *testing.T) {
	old := NewHasher(Params{Memory: 2048, Time: 2, Threads: 2})
	encoded, err := old.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	ok, err := NewHasher(testParams).Verify([]byte("Passw0rd!"), encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for hash produced with different params")
	}
}

// TestVerifyCorrupt tests that malformed stored hashes yield ErrCorruptCredential
func TestVerifyCorrupt(t *testing.T) {
	h := NewHasher(testParams)
	valid, err := h.Hash([]byte("Passw0rd!"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	parts := strings.Split(valid, "$")

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"legacy sha256 hex", "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"},
		{"wrong algorithm", strings.Replace(valid, "argon2id", "argon2i", 1)},
		{"wrong version", strings.Replace(valid, "v=19", "v=16", 1)},
		{"missing field", strings.Join(parts[:5], "$")},
		{"bad params", strings.Join([]string{"", parts[1], parts[2], "m=x,t=1,p=1", parts[4], parts[5]}, "$")},
		{"zero time", strings.Join([]string{"", parts[1], parts[2], "m=1024,t=0,p=1", parts[4], parts[5]}, "$")},
		{"huge memory", strings.Join([]string{"", parts[1], parts[2], "m=99999999,t=1,p=1", parts[4], parts[5]}, "$")},
		{"bad salt", strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$")},
		{"short key", strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], "AAAA"}, "$")},
		{"trailing version junk", strings.Replace(valid, "v=19", "v=19junk", 1)},
		{"trailing params junk", strings.Join([]string{"", parts[1], parts[2], "m=1024,t=1,p=1junk", parts[4], parts[5]}, "$")},
		{"extra param", strings.Join([]string{"", parts[1], parts[2], "m=1024,t=1,p=1,x=2", parts[4], parts[5]}, "$")},
		{"reordered params", strings.Join([]string{"", parts[1], parts[2], "t=1,m=1024,p=1", parts[4], parts[5]}, "$")},
		{"signed param", strings.Join([]string{"", parts[1], parts[2], "m=+1024,t=1,p=1", parts[4], parts[5]}, "$")},
		{"threads overflow", strings.Join([]string{"", parts[1], parts[2], "m=1024,t=1,p=256", parts[4], parts[5]}, "$")},
		{"zero threads", strings.Join([]string{"", parts[1], parts[2], "m=1024,t=1,p=0", parts[4], parts[5]}, "$")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify([]byte("Passw0rd!"), tt.encoded)
			if !errors.Is(err, ErrCorruptCredential) {
				t.Errorf("Verify() error = %v, want ErrCorruptCredential", err)
			}
			if ok {
				t.Error("Verify() = true for corrupt hash")
			}
		})
	}
}

// TestDummyHash tests that the dummy hash is well formed, unique and
// matches no plaintext
func TestDummyHash(t *testing.T) {
	h := NewHasher(testParams)

	first, err := h.DummyHash()
	if err != nil {
		t.Fatalf("DummyHash() error = %v", err)
	}
	second, err := h.DummyHash()
	if err != nil {
		t.Fatalf("DummyHash() error = %v", err)
	}
	if first == second {
		t.Error("DummyHash() returned the same hash twice")
	}

	params, salt, key, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode(DummyHash()) error = %v", err)
	}
	if params != testParams {
		t.Errorf("params = %+v, want %+v", params, testParams)
	}
	if len(salt) != SaltLength || len(key) != KeyLength {
		t.Errorf("salt/key lengths = %d/%d, want %d/%d", len(salt), len(key), SaltLength, KeyLength)
	}

	ok, err := h.Verify([]byte("Passw0rd!"), first)
	if err != nil || ok {
		t.Errorf("Verify(dummy) = %v, %v; want false, nil", ok, err)
	}

	if _, err := NewHasher(Params{}).DummyHash(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("DummyHash() with zero params error = %v, want ErrInvalidParams", err)
	}
}

// TestParamsValidate tests parameter range checks
func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"default", DefaultParams, false},
		{"test", testParams, false},
		{"zero time", Params{Memory: 1024, Time: 0, Threads: 1}, true},
		{"zero threads", Params{Memory: 1024, Time: 1, Threads: 0}, true},
		{"memory below lanes", Params{Memory: 16, Time: 1, Threads: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}

	if _, err := NewHasher(Params{}).Hash([]byte("x")); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Hash() with zero params error = %v, want ErrInvalidParams", err)
	}
}

// TestDefaultParameters verifies Argon2id parameters match OWASP recommendations
func TestDefaultParameters(t *testing.T) {
	if Argon2Memory != 64*1024 {
		t.Errorf("Argon2Memory = %d, want %d (64MB)", Argon2Memory, 64*1024)
	}
	if Argon2Time != 3 {
		t.Errorf("Argon2Time = %d, want 3", Argon2Time)
	}
	if Argon2Threads != 4 {
		t.Errorf("Argon2Threads = %d, want 4", Argon2Threads)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
}

// TestSecureWipe tests that SecureWipe zeros out memory
func TestSecureWipe(t *testing.T) {
	data := make([]byte, 64)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate random data: %v", err)
	}
	data[0] = 0xff

	SecureWipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
			break
		}
	}

	// Should not panic on nil slice
	SecureWipe(nil)
}

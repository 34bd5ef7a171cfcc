package crypto

import (
	"testing"
)

func TestSecureWipe_ZeroesKeyMaterial(t *testing.T) {
	t.Parallel()

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if isZeroKey(kp.Private) {
		t.Fatal("private key is all zeros before wiping")
	}

	if err := SecureWipe(kp.Private[:]); err != nil {
		t.Fatalf("SecureWipe failed: %v", err)
	}
	if !isZeroKey(kp.Private) {
		t.Error("private key not zeroed by SecureWipe")
	}
}

func TestWipeKeyPair(t *testing.T) {
	t.Parallel()

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if err := WipeKeyPair(kp); err != nil {
		t.Fatalf("WipeKeyPair failed: %v", err)
	}
	if !isZeroKey(kp.Private) {
		t.Error("private key not zeroed by WipeKeyPair")
	}

	if err := WipeKeyPair(nil); err == nil {
		t.Error("WipeKeyPair accepted nil")
	}
}

func TestSecureWipe_EdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     []byte
		expectErr bool
	}{
		{"nil slice", nil, true},
		{"empty slice", []byte{}, false},
		{"single byte", []byte{0xFF}, false},
		{"large buffer", make([]byte, 1024), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.input {
				tt.input[i] = byte(i%255 + 1)
			}

			err := SecureWipe(tt.input)
			if tt.expectErr != (err != nil) {
				t.Fatalf("SecureWipe error = %v, expectErr = %v", err, tt.expectErr)
			}

			for i, b := range tt.input {
				if b != 0 {
					t.Errorf("byte %d not zeroed: %d", i, b)
				}
			}
		})
	}
}

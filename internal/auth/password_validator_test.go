package auth

import (
	"testing"

	"pgregory.net/rapid"
)

func TestValidatePasswordAcceptsStrongPasswords(t *testing.T) {
	v := NewPasswordValidator()

	for _, password := range []string{
		"Str0ng!Pass",
		"Another#1Secret",
		"xY9$abcd",
	} {
		if errs := v.ValidatePassword(password); len(errs) != 0 {
			t.Errorf("password %q should be valid, got %v", password, errs)
		}
	}
}

func TestValidatePasswordRejectsMissingClasses(t *testing.T) {
	v := NewPasswordValidator()

	cases := []struct {
		name     string
		password string
	}{
		{"too short", "aB1!xyz"},
		{"no uppercase", "str0ng!pass"},
		{"no lowercase", "STR0NG!PASS"},
		{"no number", "Strong!Pass"},
		{"no special", "Str0ngPass1"},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if errs := v.ValidatePassword(tc.password); len(errs) == 0 {
				t.Errorf("password %q should be invalid", tc.password)
			}
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	v := NewPasswordValidator()

	hash, err := v.HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == "Str0ng!Pass" {
		t.Fatal("hash must not equal the plaintext password")
	}
	if err := v.VerifyPassword("Str0ng!Pass", hash); err != nil {
		t.Errorf("correct password should verify: %v", err)
	}
	if err := v.VerifyPassword("Wr0ng!Pass", hash); err == nil {
		t.Error("wrong password should not verify")
	}
}

func TestProperty1_ValidPasswordsAlwaysHashAndVerify(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := NewPasswordValidator()

		upper := rapid.StringMatching(`[A-Z]{1,4}`).Draw(t, "upper")
		lower := rapid.StringMatching(`[a-z]{1,4}`).Draw(t, "lower")
		number := rapid.StringMatching(`[0-9]{1,4}`).Draw(t, "number")
		special := rapid.SampledFrom([]string{"!", "@", "#", "$", "%", "^", "&"}).Draw(t, "special")
		padding := rapid.StringMatching(`[a-zA-Z0-9]{4,8}`).Draw(t, "padding")

		password := upper + lower + number + special + padding

		if !v.IsValidPassword(password) {
			t.Fatalf("constructed password %q should be valid", password)
		}

		hash, err := v.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if err := v.VerifyPassword(password, hash); err != nil {
			t.Fatalf("round trip failed: %v", err)
		}
	})
}

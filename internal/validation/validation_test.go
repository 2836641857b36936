package validation

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"user@example.com", ""},
		{"a.b+c@sub.example.co.jp", ""},
		{"", "Email is required"},
		{"   ", "Email is required"},
		{"user@example", "Please enter a valid email address"},
		{"user example@example.com", "Please enter a valid email address"},
		{"@example.com", "Please enter a valid email address"},
	}
	for _, tt := range tests {
		if got := Email(tt.input); got != tt.want {
			t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Password123", ""},
		{"123456", ""},
		{"", "Password is required"},
		{"12345", "Password must be at least 6 characters long"},
	}
	for _, tt := range tests {
		if got := Password(tt.input); got != tt.want {
			t.Errorf("Password(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Demo User", ""},
		{"Al", ""},
		{"山田", ""},
		{"", "Name is required"},
		{"  ", "Name is required"},
		{" A ", "Name must be at least 2 characters long"},
	}
	for _, tt := range tests {
		if got := Name(tt.input); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestConfirmPassword(t *testing.T) {
	if got := ConfirmPassword("abcdef", "abcdef"); got != "" {
		t.Errorf("matching = %q", got)
	}
	if got := ConfirmPassword("abcdef", ""); got != "Please confirm your password" {
		t.Errorf("empty = %q", got)
	}
	if got := ConfirmPassword("abcdef", "abcdeg"); got != "Passwords do not match" {
		t.Errorf("mismatch = %q", got)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"123456", ""},
		{"000000", ""},
		{"", "Verification code is required"},
		{"12345", "Verification code must be 6 digits"},
		{"1234567", "Verification code must be 6 digits"},
		{"12a456", "Verification code must be 6 digits"},
		{" 123456", "Verification code must be 6 digits"},
		{"１２３４５６", "Verification code must be 6 digits"},
	}
	for _, tt := range tests {
		if got := Code(tt.input); got != tt.want {
			t.Errorf("Code(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

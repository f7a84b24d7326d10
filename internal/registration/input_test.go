package registration

import (
	"strings"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	if fe := validInput().Validate(); len(fe) != 0 {
		t.Errorf("unexpected errors: %v", fe)
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Input)
		field  string
		want   string
	}{
		{"missing email", func(in *Input) { in.Email = "" }, FieldEmail, "The Email field is required."},
		{"invalid email", func(in *Input) { in.Email = "ada.example.com" }, FieldEmail, "The Email field is not a valid e-mail address."},
		{"display name email", func(in *Input) { in.Email = "Ada <ada@example.com>" }, FieldEmail, "The Email field is not a valid e-mail address."},
		{"missing password", func(in *Input) { in.Password, in.ConfirmPassword = "", "" }, FieldPassword, "The Password field is required."},
		{"short password", func(in *Input) { in.Password, in.ConfirmPassword = "Ab1!", "Ab1!" }, FieldPassword, "The Password must be at least 6 and at max 100 characters long."},
		{"long password", func(in *Input) {
			p := strings.Repeat("Aa1!", 26)
			in.Password, in.ConfirmPassword = p, p
		}, FieldPassword, "The Password must be at least 6 and at max 100 characters long."},
		{"mismatch", func(in *Input) { in.ConfirmPassword = "nope" }, FieldConfirmPassword, "The password and confirmation password do not match."},
		{"missing first name", func(in *Input) { in.FirstName = "  " }, FieldFirstName, "The First Name field is required."},
		{"missing last name", func(in *Input) { in.LastName = "" }, FieldLastName, "The Last Name field is required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.modify(&in)
			fe := in.Validate()
			msgs := fe[tt.field]
			if len(msgs) != 1 || msgs[0] != tt.want {
				t.Errorf("%s errors = %v, want [%q]", tt.field, msgs, tt.want)
			}
		})
	}
}

func TestValidate_BoundaryLengths(t *testing.T) {
	for _, n := range []int{6, 100} {
		in := validInput()
		in.Password = strings.Repeat("a", n)
		in.ConfirmPassword = in.Password
		if msgs := in.Validate()[FieldPassword]; len(msgs) != 0 {
			t.Errorf("length %d rejected: %v", n, msgs)
		}
	}
}

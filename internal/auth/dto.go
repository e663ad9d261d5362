package auth

import (
	"strings"

	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/core/common/validation"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

func (d LoginDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().
		Custom(errors.ErrCodeValidationFailed, func(value interface{}) string {
			if s, _ := value.(string); !strings.Contains(s, "@") {
				return "email is invalid"
			}
			return ""
		})
	v.Field("password", d.Password).Required()
	if err := v.Run().Err(); err != nil {
		return err
	}
	return nil
}

func (d RefreshTokenDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("refresh_token", d.RefreshToken).Required()
	if err := v.Run().Err(); err != nil {
		return err
	}
	return nil
}

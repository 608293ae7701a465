package user

import (
	"strings"

	apperrors "github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/core/common/validation"
)

type RegisterDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (dto *RegisterDTO) Validate() *apperrors.AppError {
	validator := validation.NewValidator()
	validator.Field("email", dto.Email).Required().MaxLength(255)
	validator.Field("password", dto.Password).Required().MinLength(8).MaxLength(72)
	validator.Field("full_name", dto.FullName).Required().MaxLength(255)
	if err := validator.Validate(); err != nil {
		return err
	}

	if !strings.Contains(dto.Email, "@") {
		return apperrors.NewValidationFieldError("email", "email must be a valid address", apperrors.ErrCodeValidationFailed)
	}
	return nil
}

type UpdateProfileDTO struct {
	FullName string `json:"full_name"`
}

func (dto *UpdateProfileDTO) Validate() *apperrors.AppError {
	validator := validation.NewValidator()
	validator.Field("full_name", dto.FullName).Required().MaxLength(255)
	return validator.Validate()
}
